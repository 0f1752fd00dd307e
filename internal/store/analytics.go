package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/shared"
)

const topEventNames = 20

// RecordEvents inserts tracking events in one transaction.
func (s *SQLiteStore) RecordEvents(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]int64, len(events))
	err := shared.RetryOnConflict(ctx, "record_events", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer rollback(tx)

		for i, ev := range events {
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}
			var data any
			if len(ev.Data) > 0 {
				raw, err := json.Marshal(ev.Data)
				if err != nil {
					return fmt.Errorf("encode event data: %w", err)
				}
				data = string(raw)
			}
			var duration any
			if ev.DurationSeconds != nil {
				duration = *ev.DurationSeconds
			}

			result, err := tx.ExecContext(ctx, `
				INSERT INTO events (
					anonymous_id, session_id, event_name, event_category, event_data,
					page_path, duration_seconds, client_ip, user_agent, timestamp
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.AnonymousID, nullString(ev.SessionID), ev.Name, ev.Category, data,
				nullString(ev.PagePath), duration, nullString(ev.ClientIP), nullString(ev.UserAgent),
				ev.Timestamp.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			if ids[i], err = result.LastInsertId(); err != nil {
				return fmt.Errorf("event id: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit events: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, ev := range events {
		ev.ID = ids[i]
	}
	return nil
}

// SaveFeedback inserts a feedback record.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}
	var id int64
	err := shared.RetryOnConflict(ctx, "save_feedback", writeRetries, writeBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO feedback (
				anonymous_id, session_id, feedback_type, nps_score, result_accuracy,
				experience_rating, feedback_text, mbti_result, client_ip, user_agent, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fb.AnonymousID, nullString(fb.SessionID), string(fb.Type),
			nullIntPtr(fb.NPSScore), nullIntPtr(fb.ResultAccuracy), nullIntPtr(fb.ExperienceRating),
			nullString(fb.Text), nullString(fb.MBTIResult), nullString(fb.ClientIP), nullString(fb.UserAgent),
			fb.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return err
	}
	fb.ID = id
	return nil
}

// Stats aggregates sessions, events and feedback created since the given time.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*domain.Stats, error) {
	cutoff := since.UnixMilli()
	stats := &domain.Stats{PeriodStart: since}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_complete), 0)
		FROM sessions WHERE created_at >= ?`, cutoff).
		Scan(&stats.TotalSessions, &stats.CompletedSessions)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if stats.TotalSessions > 0 {
		stats.CompletionRate = float64(stats.CompletedSessions) / float64(stats.TotalSessions) * 100
	}

	if stats.SessionsByDepth, err = s.namedCounts(ctx, `
		SELECT depth, COUNT(*) FROM sessions
		WHERE created_at >= ? GROUP BY depth ORDER BY COUNT(*) DESC`, cutoff); err != nil {
		return nil, fmt.Errorf("sessions by depth: %w", err)
	}

	if stats.Predictions, err = s.namedCounts(ctx, `
		SELECT current_prediction, COUNT(*) FROM sessions
		WHERE created_at >= ? AND current_prediction <> ?
		GROUP BY current_prediction ORDER BY COUNT(*) DESC`, cutoff, domain.UnknownPrediction); err != nil {
		return nil, fmt.Errorf("prediction distribution: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE timestamp >= ?`, cutoff).
		Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	if stats.EventsByName, err = s.namedCounts(ctx, `
		SELECT event_name, COUNT(*) FROM events
		WHERE timestamp >= ? GROUP BY event_name ORDER BY COUNT(*) DESC LIMIT ?`, cutoff, topEventNames); err != nil {
		return nil, fmt.Errorf("events by name: %w", err)
	}

	if stats.EventsByDay, err = s.namedCounts(ctx, `
		SELECT strftime('%Y-%m-%d', timestamp / 1000, 'unixepoch') AS day, COUNT(*) FROM events
		WHERE timestamp >= ? GROUP BY day ORDER BY day`, cutoff); err != nil {
		return nil, fmt.Errorf("events by day: %w", err)
	}

	var avgNPS sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(nps_score) FROM feedback WHERE created_at >= ?`, cutoff).
		Scan(&stats.TotalFeedback, &avgNPS); err != nil {
		return nil, fmt.Errorf("feedback summary: %w", err)
	}
	if avgNPS.Valid {
		v := avgNPS.Float64
		stats.AverageNPS = &v
	}

	return stats, nil
}

func (s *SQLiteStore) namedCounts(ctx context.Context, query string, args ...any) ([]domain.NamedCount, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close count rows", "error", closeErr)
		}
	}()

	counts := []domain.NamedCount{}
	for rows.Next() {
		var c domain.NamedCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ExportEvents returns up to limit events since the given time, newest first.
func (s *SQLiteStore) ExportEvents(ctx context.Context, since time.Time, limit int) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, anonymous_id, session_id, event_name, event_category, event_data,
		       page_path, duration_seconds, timestamp
		FROM events WHERE timestamp >= ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	events := []*domain.Event{}
	for rows.Next() {
		var (
			ev                        domain.Event
			sessionID, data, pagePath sql.NullString
			duration                  sql.NullFloat64
			ts                        int64
		)
		if err := rows.Scan(&ev.ID, &ev.AnonymousID, &sessionID, &ev.Name, &ev.Category, &data,
			&pagePath, &duration, &ts); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.PagePath = pagePath.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("event %d: decode data: %w", ev.ID, err)
			}
		}
		if duration.Valid {
			v := duration.Float64
			ev.DurationSeconds = &v
		}
		ev.Timestamp = time.UnixMilli(ts)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ExportFeedback returns up to limit feedback records since the given time, newest first.
func (s *SQLiteStore) ExportFeedback(ctx context.Context, since time.Time, limit int) ([]*domain.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, anonymous_id, session_id, feedback_type, nps_score, result_accuracy,
		       experience_rating, feedback_text, mbti_result, created_at
		FROM feedback WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close feedback rows", "error", closeErr)
		}
	}()

	feedback := []*domain.Feedback{}
	for rows.Next() {
		var (
			fb                        domain.Feedback
			fbType                    string
			sessionID, text, result   sql.NullString
			nps, accuracy, experience sql.NullInt64
			createdAt                 int64
		)
		if err := rows.Scan(&fb.ID, &fb.AnonymousID, &sessionID, &fbType, &nps, &accuracy,
			&experience, &text, &result, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		fb.Type = domain.FeedbackType(fbType)
		fb.SessionID = sessionID.String
		fb.Text = text.String
		fb.MBTIResult = result.String
		fb.NPSScore = intPtr(nps)
		fb.ResultAccuracy = intPtr(accuracy)
		fb.ExperienceRating = intPtr(experience)
		fb.CreatedAt = time.UnixMilli(createdAt)
		feedback = append(feedback, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return feedback, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
