// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
)

var (
	// ErrVersionConflict means the session row changed since it was read.
	ErrVersionConflict = errors.New("optimistic lock failed: session version changed")

	// ErrSessionNotFound means the session row does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTrackerNotFound means no user tracker exists for the anonymous ID.
	ErrTrackerNotFound = errors.New("user tracker not found")
)

// Repository defines the interface for persisting assessment sessions,
// their messages, and tracking data.
type Repository interface {
	// CreateSession inserts a new session and its greeting message atomically.
	CreateSession(ctx context.Context, session *domain.Session, greeting *domain.Message) error

	// GetSession retrieves a session by ID. Returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListMessages returns a session's messages in creation order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// AppendMessage inserts a single message outside of a turn commit.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// CommitTurn inserts msgs and writes session in one transaction.
	// The update only applies if the stored version equals session.Version
	// (optimistic locking); otherwise ErrVersionConflict is returned and
	// nothing is written. On success session.Version is incremented.
	CommitTurn(ctx context.Context, session *domain.Session, msgs ...*domain.Message) error

	// RecordEvents inserts tracking events in one transaction.
	RecordEvents(ctx context.Context, events []*domain.Event) error

	// SaveFeedback inserts a feedback record.
	SaveFeedback(ctx context.Context, feedback *domain.Feedback) error

	// Stats aggregates sessions, events and feedback created since the given time.
	Stats(ctx context.Context, since time.Time) (*domain.Stats, error)

	// ExportEvents returns up to limit events since the given time, newest first.
	ExportEvents(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error)

	// ExportFeedback returns up to limit feedback records since the given time, newest first.
	ExportFeedback(ctx context.Context, since time.Time, limit int) ([]*domain.Feedback, error)

	// TrackSession records that anonymousID started sessionID at mode,
	// creating the tracker on first sight.
	TrackSession(ctx context.Context, anonymousID, sessionID string, mode domain.Depth, device domain.Device, now time.Time) (*domain.UserTracker, error)

	// TrackCompletion records a session's final result. Returns
	// ErrTrackerNotFound when the user was never tracked.
	TrackCompletion(ctx context.Context, anonymousID, sessionID, result string, mode domain.Depth, now time.Time) (*domain.UserTracker, error)

	// GetTracker retrieves a tracker. Returns nil, nil when absent.
	GetTracker(ctx context.Context, anonymousID string) (*domain.UserTracker, error)

	// ListTrackers returns every tracker, most recently seen first.
	ListTrackers(ctx context.Context) ([]*domain.UserTracker, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
