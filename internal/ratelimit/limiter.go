// Package ratelimit implements per-client sliding-window quotas for session
// creation and message sending.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Action is a rate-limited operation.
type Action string

const (
	ActionCreateSession Action = "session_create"
	ActionSendMessage   Action = "message_send"
)

// Limits configures the quotas. A limit of 0 denies every request.
type Limits struct {
	SessionsPerDay    int
	MessagesPerDay    int
	MessagesPerMinute int
	DayWindow         time.Duration
	BurstWindow       time.Duration
}

// DefaultLimits returns 5 sessions/day, 100 messages/day, 10 messages/minute.
func DefaultLimits() Limits {
	return Limits{
		SessionsPerDay:    5,
		MessagesPerDay:    100,
		MessagesPerMinute: 10,
		DayWindow:         24 * time.Hour,
		BurstWindow:       time.Minute,
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	Action  Action
	// Limit and Window describe the quota that denied the request.
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

// Reason renders a human-readable denial message.
func (d Decision) Reason() string {
	if d.Allowed {
		return ""
	}
	noun := "messages"
	if d.Action == ActionCreateSession {
		noun = "sessions"
	}
	return fmt.Sprintf("Rate limit reached: %d %s per %s. Please try again in %s.",
		d.Limit, noun, windowName(d.Window), humanDuration(d.RetryAfter))
}

// Usage is a read-only quota snapshot for one client.
type Usage struct {
	SessionsToday      int `json:"sessions_today"`
	SessionsLimit      int `json:"sessions_limit"`
	MessagesToday      int `json:"messages_today"`
	MessagesLimit      int `json:"messages_limit"`
	MessagesLastMinute int `json:"messages_last_minute"`
	MessagesPerMinute  int `json:"messages_per_minute_limit"`
}

// Limiter tracks timestamps per client and action.
// Check and Record are separate calls, so two concurrent requests from one
// client can both pass Check before either records; the quota may then be
// exceeded by the number of in-flight requests.
type Limiter struct {
	mu       sync.Mutex
	sessions map[string][]time.Time
	messages map[string][]time.Time
	limits   Limits
	now      func() time.Time
}

// New creates a limiter. Zero windows fall back to 24h and 60s.
func New(limits Limits) *Limiter {
	if limits.DayWindow <= 0 {
		limits.DayWindow = 24 * time.Hour
	}
	if limits.BurstWindow <= 0 {
		limits.BurstWindow = time.Minute
	}
	return &Limiter{
		sessions: make(map[string][]time.Time),
		messages: make(map[string][]time.Time),
		limits:   limits,
		now:      time.Now,
	}
}

// Limits returns the configured quotas.
func (l *Limiter) Limits() Limits { return l.limits }

// Check reports whether client may perform action now. It does not record.
func (l *Limiter) Check(action Action, client string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	switch action {
	case ActionCreateSession:
		return evaluate(action, l.sessions[client], l.limits.SessionsPerDay, l.limits.DayWindow, now)
	default:
		times := l.messages[client]
		if d := evaluate(action, times, l.limits.MessagesPerDay, l.limits.DayWindow, now); !d.Allowed {
			return d
		}
		return evaluate(action, times, l.limits.MessagesPerMinute, l.limits.BurstWindow, now)
	}
}

// Record appends an occurrence of action for client. Call once per accepted action.
func (l *Limiter) Record(action Action, client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if action == ActionCreateSession {
		l.sessions[client] = append(l.sessions[client], now)
		return
	}
	l.messages[client] = append(l.messages[client], now)
}

// Usage returns the client's current counts against each quota.
func (l *Limiter) Usage(client string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return Usage{
		SessionsToday:      countSince(l.sessions[client], now.Add(-l.limits.DayWindow)),
		SessionsLimit:      l.limits.SessionsPerDay,
		MessagesToday:      countSince(l.messages[client], now.Add(-l.limits.DayWindow)),
		MessagesLimit:      l.limits.MessagesPerDay,
		MessagesLastMinute: countSince(l.messages[client], now.Add(-l.limits.BurstWindow)),
		MessagesPerMinute:  l.limits.MessagesPerMinute,
	}
}

// Sweep drops timestamps older than the day window and removes empty clients.
// It returns the number of clients removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.limits.DayWindow)
	return prune(l.sessions, cutoff) + prune(l.messages, cutoff)
}

// Start runs Sweep every interval until ctx is cancelled.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := l.Sweep(); removed > 0 {
					slog.Debug("Rate limiter swept idle clients", "removed", removed)
				}
			}
		}
	}()
}

func evaluate(action Action, times []time.Time, limit int, window time.Duration, now time.Time) Decision {
	cutoff := now.Add(-window)
	var oldest time.Time
	count := 0
	for _, t := range times {
		if !t.After(cutoff) {
			continue
		}
		if count == 0 || t.Before(oldest) {
			oldest = t
		}
		count++
	}
	if count < limit {
		return Decision{Allowed: true, Action: action}
	}

	retry := window
	if count > 0 {
		retry = oldest.Add(window).Sub(now)
	}
	if retry < 0 {
		retry = 0
	}
	return Decision{Action: action, Limit: limit, Window: window, RetryAfter: retry}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func prune(m map[string][]time.Time, cutoff time.Time) int {
	removed := 0
	for key, times := range m {
		var fresh []time.Time
		for _, t := range times {
			if t.After(cutoff) {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) == 0 {
			delete(m, key)
			removed++
		} else {
			m[key] = fresh
		}
	}
	return removed
}

func windowName(w time.Duration) string {
	switch {
	case w == 24*time.Hour:
		return "day"
	case w == time.Minute:
		return "minute"
	default:
		return w.String()
	}
}

func humanDuration(d time.Duration) string {
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%d seconds", int((d+time.Second-1)/time.Second))
	}
}
