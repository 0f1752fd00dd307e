package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/shared"
	"github.com/google/uuid"
)

const trackerColumns = `id, anonymous_id, session_ids, mode_journey, total_sessions,
	completed_sessions, mbti_results, device_type, browser, os, first_seen, last_seen`

type rowScanner interface {
	Scan(dest ...any) error
}

// TrackSession records that anonymousID started sessionID at mode.
func (s *SQLiteStore) TrackSession(ctx context.Context, anonymousID, sessionID string, mode domain.Depth, device domain.Device, now time.Time) (*domain.UserTracker, error) {
	var tracker *domain.UserTracker
	err := shared.RetryOnConflict(ctx, "track_session", writeRetries, writeBaseDelay, func() error {
		return s.inTrackerTx(ctx, anonymousID, func(t *domain.UserTracker) (*domain.UserTracker, error) {
			if t == nil {
				t = &domain.UserTracker{
					ID:          uuid.NewString(),
					AnonymousID: anonymousID,
					Device:      device,
					FirstSeen:   now,
				}
			}
			if !t.HasSession(sessionID) {
				t.SessionIDs = append(t.SessionIDs, sessionID)
				t.TotalSessions = len(t.SessionIDs)
			}
			t.ModeJourney = append(t.ModeJourney, domain.ModeStep{Mode: mode, SessionID: sessionID, Timestamp: now})
			t.LastSeen = now
			tracker = t
			return t, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

// TrackCompletion records a session's final result. A repeated completion
// for the same session replaces its entry rather than counting twice.
func (s *SQLiteStore) TrackCompletion(ctx context.Context, anonymousID, sessionID, result string, mode domain.Depth, now time.Time) (*domain.UserTracker, error) {
	var tracker *domain.UserTracker
	err := shared.RetryOnConflict(ctx, "track_completion", writeRetries, writeBaseDelay, func() error {
		return s.inTrackerTx(ctx, anonymousID, func(t *domain.UserTracker) (*domain.UserTracker, error) {
			if t == nil {
				return nil, ErrTrackerNotFound
			}
			entry := domain.ResultEntry{SessionID: sessionID, Result: result, Mode: mode, Timestamp: now}
			replaced := false
			for i := range t.MBTIResults {
				if t.MBTIResults[i].SessionID == sessionID {
					t.MBTIResults[i] = entry
					replaced = true
					break
				}
			}
			if !replaced {
				t.MBTIResults = append(t.MBTIResults, entry)
				t.CompletedSessions++
			}
			t.LastSeen = now
			tracker = t
			return t, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

// inTrackerTx loads the tracker for anonymousID (nil when absent), applies
// fn and writes the result back in one transaction.
func (s *SQLiteStore) inTrackerTx(ctx context.Context, anonymousID string, fn func(*domain.UserTracker) (*domain.UserTracker, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	existing, err := scanTracker(tx.QueryRowContext(ctx,
		`SELECT `+trackerColumns+` FROM user_trackers WHERE anonymous_id = ?`, anonymousID))
	if err != nil {
		return err
	}
	updated, err := fn(existing)
	if err != nil {
		return err
	}

	sessionIDs, err := json.Marshal(nonNil(updated.SessionIDs))
	if err != nil {
		return fmt.Errorf("encode session ids: %w", err)
	}
	journey, err := json.Marshal(nonNil(updated.ModeJourney))
	if err != nil {
		return fmt.Errorf("encode mode journey: %w", err)
	}
	results, err := json.Marshal(nonNil(updated.MBTIResults))
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	if existing == nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_trackers (`+trackerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			updated.ID, updated.AnonymousID, string(sessionIDs), string(journey), updated.TotalSessions,
			updated.CompletedSessions, string(results),
			nullString(updated.Type), nullString(updated.Browser), nullString(updated.OS),
			updated.FirstSeen.UnixMilli(), updated.LastSeen.UnixMilli(),
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE user_trackers SET
				session_ids = ?, mode_journey = ?, total_sessions = ?,
				completed_sessions = ?, mbti_results = ?, last_seen = ?
			WHERE id = ?`,
			string(sessionIDs), string(journey), updated.TotalSessions,
			updated.CompletedSessions, string(results), updated.LastSeen.UnixMilli(), updated.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("write tracker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tracker: %w", err)
	}
	return nil
}

// GetTracker retrieves a tracker by anonymous ID.
func (s *SQLiteStore) GetTracker(ctx context.Context, anonymousID string) (*domain.UserTracker, error) {
	return scanTracker(s.db.QueryRowContext(ctx,
		`SELECT `+trackerColumns+` FROM user_trackers WHERE anonymous_id = ?`, anonymousID))
}

// ListTrackers returns every tracker, most recently seen first.
func (s *SQLiteStore) ListTrackers(ctx context.Context) ([]*domain.UserTracker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackerColumns+` FROM user_trackers ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query trackers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close tracker rows", "error", closeErr)
		}
	}()

	trackers := []*domain.UserTracker{}
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackers: %w", err)
	}
	return trackers, nil
}

// scanTracker returns nil, nil on sql.ErrNoRows.
func scanTracker(row rowScanner) (*domain.UserTracker, error) {
	var (
		t                        domain.UserTracker
		sessionIDs, journey, res string
		deviceType, browser, os  sql.NullString
		firstSeen, lastSeen      int64
	)
	err := row.Scan(&t.ID, &t.AnonymousID, &sessionIDs, &journey, &t.TotalSessions,
		&t.CompletedSessions, &res, &deviceType, &browser, &os, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tracker row: %w", err)
	}

	if err := json.Unmarshal([]byte(sessionIDs), &t.SessionIDs); err != nil {
		return nil, fmt.Errorf("decode session ids: %w", err)
	}
	if err := json.Unmarshal([]byte(journey), &t.ModeJourney); err != nil {
		return nil, fmt.Errorf("decode mode journey: %w", err)
	}
	if err := json.Unmarshal([]byte(res), &t.MBTIResults); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	t.Type = deviceType.String
	t.Browser = browser.String
	t.OS = os.String
	t.FirstSeen = time.UnixMilli(firstSeen)
	t.LastSeen = time.UnixMilli(lastSeen)
	return &t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
