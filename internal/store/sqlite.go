package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing a lock upgrade mid-transaction.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		depth TEXT NOT NULL,
		language TEXT NOT NULL,
		user_name TEXT,
		client_ip TEXT,
		user_agent TEXT,
		current_round INTEGER NOT NULL DEFAULT 0,
		continue_precision_round INTEGER,
		current_prediction TEXT NOT NULL DEFAULT 'Unknown',
		confidence_score INTEGER NOT NULL DEFAULT 0,
		progress INTEGER NOT NULL DEFAULT 0,
		cognitive_stack TEXT,
		development_level TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_complete INTEGER NOT NULL DEFAULT 0,
		analysis_report TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		anonymous_id TEXT NOT NULL,
		session_id TEXT,
		event_name TEXT NOT NULL,
		event_category TEXT NOT NULL,
		event_data TEXT,
		page_path TEXT,
		duration_seconds REAL,
		client_ip TEXT,
		user_agent TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_name ON events(event_name);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		anonymous_id TEXT NOT NULL,
		session_id TEXT,
		feedback_type TEXT NOT NULL,
		nps_score INTEGER,
		result_accuracy INTEGER,
		experience_rating INTEGER,
		feedback_text TEXT,
		mbti_result TEXT,
		client_ip TEXT,
		user_agent TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);

	CREATE TABLE IF NOT EXISTS user_trackers (
		id TEXT PRIMARY KEY,
		anonymous_id TEXT NOT NULL UNIQUE,
		session_ids TEXT NOT NULL DEFAULT '[]',
		mode_journey TEXT NOT NULL DEFAULT '[]',
		total_sessions INTEGER NOT NULL DEFAULT 0,
		completed_sessions INTEGER NOT NULL DEFAULT 0,
		mbti_results TEXT NOT NULL DEFAULT '[]',
		device_type TEXT,
		browser TEXT,
		os TEXT,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_trackers_last_seen ON user_trackers(last_seen);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session and its greeting message atomically.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session, greeting *domain.Message) error {
	if session.Version == 0 {
		session.Version = 1
	}
	var greetingID int64
	err := shared.RetryOnConflict(ctx, "create_session", writeRetries, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer rollback(tx)

		stack, err := encodeStack(session.CognitiveStack)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (
				id, depth, language, user_name, client_ip, user_agent,
				current_round, continue_precision_round, current_prediction,
				confidence_score, progress, cognitive_stack, development_level,
				is_active, is_complete, analysis_report, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, string(session.Depth), session.Language,
			nullString(session.UserName), nullString(session.ClientIP), nullString(session.UserAgent),
			session.CurrentRound, nullIntPtr(session.ContinuePrecisionRound), session.CurrentPrediction,
			session.ConfidenceScore, session.Progress, stack, nullString(session.DevelopmentLevel),
			session.IsActive, session.IsComplete, nullString(session.AnalysisReport), session.Version,
			session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if greeting != nil {
			greeting.SessionID = session.ID
			if greetingID, err = insertMessage(ctx, tx, greeting); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if greeting != nil {
		greeting.ID = greetingID
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, depth, language, user_name, client_ip, user_agent,
		       current_round, continue_precision_round, current_prediction,
		       confidence_score, progress, cognitive_stack, development_level,
		       is_active, is_complete, analysis_report, version, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var (
		session                               domain.Session
		depth                                 string
		userName, clientIP, userAgent, devLvl sql.NullString
		stack, report                         sql.NullString
		continueRound                         sql.NullInt64
		createdAt, updatedAt                  int64
	)
	err := row.Scan(
		&session.ID, &depth, &session.Language, &userName, &clientIP, &userAgent,
		&session.CurrentRound, &continueRound, &session.CurrentPrediction,
		&session.ConfidenceScore, &session.Progress, &stack, &devLvl,
		&session.IsActive, &session.IsComplete, &report, &session.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if session.Depth, err = domain.ParseDepth(depth); err != nil {
		return nil, fmt.Errorf("session %s: %w", session.ID, err)
	}
	session.UserName = userName.String
	session.ClientIP = clientIP.String
	session.UserAgent = userAgent.String
	session.DevelopmentLevel = devLvl.String
	session.AnalysisReport = report.String
	if continueRound.Valid {
		v := int(continueRound.Int64)
		session.ContinuePrecisionRound = &v
	}
	if stack.Valid && stack.String != "" {
		if err := json.Unmarshal([]byte(stack.String), &session.CognitiveStack); err != nil {
			return nil, fmt.Errorf("decode cognitive stack: %w", err)
		}
	}
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)

	return &session, nil
}

// ListMessages returns a session's messages in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.Message
	for rows.Next() {
		var (
			msg       domain.Message
			role      string
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if msg.Role, err = domain.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %d: %w", msg.ID, err)
		}
		if metadata.Valid {
			if msg.Metadata, err = domain.DecodeMetadata([]byte(metadata.String)); err != nil {
				return nil, fmt.Errorf("message %d: %w", msg.ID, err)
			}
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage inserts a single message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var id int64
	err := shared.RetryOnConflict(ctx, "append_message", writeRetries, writeBaseDelay, func() error {
		var err error
		id, err = insertMessage(ctx, s.db, msg)
		return err
	})
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// CommitTurn inserts msgs and writes session under a version check.
func (s *SQLiteStore) CommitTurn(ctx context.Context, session *domain.Session, msgs ...*domain.Message) error {
	now := time.Now()
	var ids []int64
	err := shared.RetryOnConflict(ctx, "commit_turn", writeRetries, writeBaseDelay, func() error {
		var err error
		ids, err = s.commitTurnOnce(ctx, session, msgs, now)
		return err
	})
	if err != nil {
		return err
	}

	for i, msg := range msgs {
		msg.ID = ids[i]
	}
	session.Version++
	session.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) commitTurnOnce(ctx context.Context, session *domain.Session, msgs []*domain.Message, now time.Time) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		msg.SessionID = session.ID
		id, err := insertMessage(ctx, tx, msg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	stack, err := encodeStack(session.CognitiveStack)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			depth = ?, current_round = ?, continue_precision_round = ?,
			current_prediction = ?, confidence_score = ?, progress = ?,
			cognitive_stack = ?, development_level = ?,
			is_active = ?, is_complete = ?, analysis_report = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(session.Depth), session.CurrentRound, nullIntPtr(session.ContinuePrecisionRound),
		session.CurrentPrediction, session.ConfidenceScore, session.Progress,
		stack, nullString(session.DevelopmentLevel),
		session.IsActive, session.IsComplete, nullString(session.AnalysisReport),
		now.UnixMilli(), session.ID, session.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, session.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check session existence: %w", err)
		}
		slog.Warn("CommitTurn affected 0 rows", "session_id", session.ID, "expected_version", session.Version)
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	return ids, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *domain.Message) (int64, error) {
	metadata, err := domain.EncodeMetadata(msg.Metadata)
	if err != nil {
		return 0, err
	}
	var metadataArg any
	if metadata != nil {
		metadataArg = string(metadata)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, string(msg.Role), msg.Content, metadataArg, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to roll back transaction", "error", err)
	}
}

func encodeStack(stack []string) (any, error) {
	if len(stack) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(stack)
	if err != nil {
		return nil, fmt.Errorf("encode cognitive stack: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
