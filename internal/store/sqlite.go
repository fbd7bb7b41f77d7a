package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robertcoach/assess/internal/domain"
	"github.com/robertcoach/assess/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
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
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS assessment_sessions (
		profile_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		persona_hint TEXT NOT NULL DEFAULT '',
		first_prompt TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		transcript_json TEXT NOT NULL,
		result_json TEXT,
		saved_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessment_sessions_saved ON assessment_sessions(saved_at);
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

// LoadSession retrieves the session record for a profile. A stored payload
// that fails shape validation yields ErrCorruptRecord rather than a
// half-populated session.
func (s *SQLiteStore) LoadSession(ctx context.Context, profileID string) (*domain.Session, error) {
	query := `
		SELECT session_id, email, persona_hint, first_prompt,
		       status, transcript_json, result_json, saved_at
		FROM assessment_sessions WHERE profile_id = ?`

	row := s.db.QueryRowContext(ctx, query, profileID)

	var session domain.Session
	var status, transcriptJSON string
	var resultJSON sql.NullString
	var savedAt int64

	err := row.Scan(
		&session.SessionID, &session.Email, &session.PersonaHint,
		&session.FirstPrompt, &status, &transcriptJSON,
		&resultJSON, &savedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Status = domain.Status(status)
	session.SavedAt = time.Unix(savedAt, 0)

	if err := json.Unmarshal([]byte(transcriptJSON), &session.Transcript); err != nil {
		slog.Warn("stored transcript is not valid JSON", "profile_id", profileID, "error", err)
		return nil, fmt.Errorf("%w: decode transcript: %v", ErrCorruptRecord, err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result domain.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			slog.Warn("stored result is not valid JSON", "profile_id", profileID, "error", err)
			return nil, fmt.Errorf("%w: decode result: %v", ErrCorruptRecord, err)
		}
		session.Result = &result
	}

	if err := session.Validate(); err != nil {
		slog.Warn("stored session failed shape validation", "profile_id", profileID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	return &session, nil
}

// SaveSession writes the full session in one upsert, retrying on SQLite
// concurrency errors with exponential backoff.
func (s *SQLiteStore) SaveSession(ctx context.Context, profileID string, session *domain.Session) error {
	transcriptJSON, err := json.Marshal(session.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	var resultJSON interface{}
	if session.Result != nil {
		data, err := json.Marshal(session.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = string(data)
	}

	query := `
		INSERT INTO assessment_sessions (
			profile_id, session_id, email, persona_hint, first_prompt,
			status, transcript_json, result_json, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			session_id = excluded.session_id,
			email = excluded.email,
			persona_hint = excluded.persona_hint,
			first_prompt = excluded.first_prompt,
			status = excluded.status,
			transcript_json = excluded.transcript_json,
			result_json = excluded.result_json,
			saved_at = excluded.saved_at`

	return s.execWithRetry(ctx, "save session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			profileID, session.SessionID, session.Email, session.PersonaHint,
			session.FirstPrompt, string(session.Status), string(transcriptJSON),
			resultJSON, time.Now().Unix(),
		)
		return err
	})
}

// ClearSession removes the session record for a profile.
func (s *SQLiteStore) ClearSession(ctx context.Context, profileID string) error {
	return s.execWithRetry(ctx, "clear session", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM assessment_sessions WHERE profile_id = ?`, profileID)
		return err
	})
}

// CleanupExpired removes session records older than the TTL.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM assessment_sessions WHERE saved_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry runs fn, retrying SQLITE_BUSY failures with exponential
// backoff (100ms, 200ms, 400ms).
func (s *SQLiteStore) execWithRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("sqlite conflict, retrying",
				"op", op,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(delay):
			}
			continue
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}
