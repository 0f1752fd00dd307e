package domain

import (
	"math"
	"sort"
	"time"
)

// ModeStep records a session started at a given depth.
type ModeStep struct {
	Mode      Depth     `json:"mode"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultEntry is a completed session's final type.
type ResultEntry struct {
	SessionID string    `json:"session_id"`
	Result    string    `json:"result"`
	Mode      Depth     `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// Device describes the browser a tracked user reported.
type Device struct {
	Type    string `json:"device_type,omitempty"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
}

// UserTracker follows one anonymous browser across sessions.
type UserTracker struct {
	ID                string        `json:"id"`
	AnonymousID       string        `json:"anonymous_id"`
	SessionIDs        []string      `json:"session_ids"`
	ModeJourney       []ModeStep    `json:"mode_journey"`
	TotalSessions     int           `json:"total_sessions"`
	CompletedSessions int           `json:"completed_sessions"`
	MBTIResults       []ResultEntry `json:"mbti_results"`
	Device
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// HasSession reports whether sessionID was already tracked.
func (t *UserTracker) HasSession(sessionID string) bool {
	for _, id := range t.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// JourneyType classifies how a user moved between depths.
type JourneyType string

const (
	JourneyNoSelection                JourneyType = "no_selection"
	JourneyShallowCompleted           JourneyType = "shallow_completed"
	JourneyShallowAbandoned           JourneyType = "shallow_abandoned"
	JourneyShallowToStandardCompleted JourneyType = "shallow_to_standard_completed"
	JourneyShallowToStandardAbandoned JourneyType = "shallow_to_standard_abandoned"
	JourneyShallowToDeepCompleted     JourneyType = "shallow_to_standard_to_deep_completed"
	JourneyShallowToDeepAbandoned     JourneyType = "shallow_to_standard_to_deep_abandoned"
	JourneyStandardCompleted          JourneyType = "standard_completed"
	JourneyStandardAbandoned          JourneyType = "standard_abandoned"
	JourneyStandardToDeepCompleted    JourneyType = "standard_to_deep_completed"
	JourneyStandardToDeepAbandoned    JourneyType = "standard_to_deep_abandoned"
	JourneyDeepCompleted              JourneyType = "deep_completed"
	JourneyDeepAbandoned              JourneyType = "deep_abandoned"
)

// Journey is the classified path of one tracked user.
type Journey struct {
	StartMode Depth       `json:"start_mode,omitempty"`
	EndMode   Depth       `json:"end_mode,omitempty"`
	Type      JourneyType `json:"journey_type"`
	Completed bool        `json:"completed"`
	Modes     []Depth     `json:"mode_sequence,omitempty"`
}

func (d Depth) rank() int {
	switch d {
	case DepthShallow:
		return 1
	case DepthStandard:
		return 2
	case DepthDeep:
		return 3
	default:
		return 0
	}
}

// AnalyzeJourney classifies a tracker by its first and highest depth.
// Upgrades move one tier at a time, so shallow to deep always passed standard.
func AnalyzeJourney(t *UserTracker) Journey {
	if len(t.ModeJourney) == 0 {
		return Journey{Type: JourneyNoSelection}
	}

	j := Journey{
		StartMode: t.ModeJourney[0].Mode,
		Completed: t.CompletedSessions > 0,
		Modes:     make([]Depth, 0, len(t.ModeJourney)),
	}
	for _, step := range t.ModeJourney {
		j.Modes = append(j.Modes, step.Mode)
		if j.EndMode == "" || step.Mode.rank() > j.EndMode.rank() {
			j.EndMode = step.Mode
		}
	}

	pick := func(done, open JourneyType) JourneyType {
		if j.Completed {
			return done
		}
		return open
	}
	switch j.StartMode {
	case DepthShallow:
		switch j.EndMode {
		case DepthStandard:
			j.Type = pick(JourneyShallowToStandardCompleted, JourneyShallowToStandardAbandoned)
		case DepthDeep:
			j.Type = pick(JourneyShallowToDeepCompleted, JourneyShallowToDeepAbandoned)
		default:
			j.Type = pick(JourneyShallowCompleted, JourneyShallowAbandoned)
		}
	case DepthStandard:
		if j.EndMode == DepthDeep {
			j.Type = pick(JourneyStandardToDeepCompleted, JourneyStandardToDeepAbandoned)
		} else {
			j.Type = pick(JourneyStandardCompleted, JourneyStandardAbandoned)
		}
	default:
		j.Type = pick(JourneyDeepCompleted, JourneyDeepAbandoned)
	}
	return j
}

// TrackerStats summarizes every tracked user.
type TrackerStats struct {
	TotalUsers       int                 `json:"total_users"`
	UsersCompleted   int                 `json:"users_completed"`
	CompletionRate   float64             `json:"completion_rate"`
	TotalSessions    int                 `json:"total_sessions"`
	CompletedTotal   int                 `json:"total_completed_sessions"`
	StartedWith      map[Depth]int       `json:"started_with"`
	Journeys         map[JourneyType]int `json:"journeys"`
	MBTIDistribution []NamedCount        `json:"mbti_distribution"`
}

// SummarizeTrackers tallies journeys and reported results. CompletionRate is
// a percentage rounded to one decimal.
func SummarizeTrackers(trackers []*UserTracker) TrackerStats {
	stats := TrackerStats{
		TotalUsers:  len(trackers),
		StartedWith: map[Depth]int{DepthShallow: 0, DepthStandard: 0, DepthDeep: 0},
		Journeys:    map[JourneyType]int{},
	}
	results := map[string]int64{}
	for _, t := range trackers {
		if t.CompletedSessions > 0 {
			stats.UsersCompleted++
		}
		stats.TotalSessions += t.TotalSessions
		stats.CompletedTotal += t.CompletedSessions

		j := AnalyzeJourney(t)
		stats.Journeys[j.Type]++
		if j.StartMode != "" {
			stats.StartedWith[j.StartMode]++
		}
		for _, r := range t.MBTIResults {
			if r.Result != "" {
				results[r.Result]++
			}
		}
	}
	if stats.TotalUsers > 0 {
		rate := float64(stats.UsersCompleted) / float64(stats.TotalUsers) * 100
		stats.CompletionRate = math.Round(rate*10) / 10
	}

	stats.MBTIDistribution = make([]NamedCount, 0, len(results))
	for name, n := range results {
		stats.MBTIDistribution = append(stats.MBTIDistribution, NamedCount{Name: name, Count: n})
	}
	sort.Slice(stats.MBTIDistribution, func(i, j int) bool {
		a, b := stats.MBTIDistribution[i], stats.MBTIDistribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	return stats
}
