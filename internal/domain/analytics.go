package domain

import "time"

// Event is a client-side tracking event.
type Event struct {
	ID              int64
	AnonymousID     string
	SessionID       string
	Name            string
	Category        string
	Data            map[string]any
	PagePath        string
	DurationSeconds *float64
	ClientIP        string
	UserAgent       string
	Timestamp       time.Time
}

// FeedbackType enumerates accepted feedback forms.
type FeedbackType string

const (
	FeedbackNPS            FeedbackType = "nps"
	FeedbackResultRating   FeedbackType = "result_rating"
	FeedbackFeatureRequest FeedbackType = "feature_request"
	FeedbackBugReport      FeedbackType = "bug_report"
	FeedbackGeneral        FeedbackType = "general"
)

// Feedback is a user-submitted rating or comment.
type Feedback struct {
	ID               int64
	AnonymousID      string
	SessionID        string
	Type             FeedbackType
	NPSScore         *int
	ResultAccuracy   *int
	ExperienceRating *int
	Text             string
	MBTIResult       string
	ClientIP         string
	UserAgent        string
	CreatedAt        time.Time
}

// NamedCount is one row of a grouped count.
type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats summarizes usage since PeriodStart.
type Stats struct {
	PeriodDays        int          `json:"period_days"`
	PeriodStart       time.Time    `json:"period_start"`
	TotalSessions     int64        `json:"total_sessions"`
	CompletedSessions int64        `json:"completed_sessions"`
	CompletionRate    float64      `json:"completion_rate"`
	SessionsByDepth   []NamedCount `json:"sessions_by_depth"`
	Predictions       []NamedCount `json:"predictions"`
	TotalEvents       int64        `json:"total_events"`
	EventsByName      []NamedCount `json:"events_by_name"`
	EventsByDay       []NamedCount `json:"events_by_day"`
	TotalFeedback     int64        `json:"total_feedback"`
	AverageNPS        *float64     `json:"average_nps"`
}
