package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	description   TEXT NOT NULL,
	mode          TEXT NOT NULL,
	state         TEXT NOT NULL,
	current_stage TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	stages        TEXT NOT NULL,
	queue         TEXT NOT NULL,
	pending       TEXT NOT NULL,
	outputs       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`

// SQLiteStore persists sessions in a local SQLite database. List-valued
// fields are stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("workflow: open sqlite store: %w", err)
	}
	// SQLite handles one writer at a time; serialize access through a
	// single connection to avoid SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("workflow: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts the session.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	stages, err := json.Marshal(sess.Stages)
	if err != nil {
		return fmt.Errorf("workflow: encode stages: %w", err)
	}
	queue, err := json.Marshal(sess.Queue)
	if err != nil {
		return fmt.Errorf("workflow: encode queue: %w", err)
	}
	pending, err := json.Marshal(sess.Pending)
	if err != nil {
		return fmt.Errorf("workflow: encode pending: %w", err)
	}
	outputs, err := json.Marshal(sess.Outputs)
	if err != nil {
		return fmt.Errorf("workflow: encode outputs: %w", err)
	}

	completedAt := ""
	if !sess.CompletedAt.IsZero() {
		completedAt = sess.CompletedAt.Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, description, mode, state, current_stage, error,
			 stages, queue, pending, outputs, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description   = excluded.description,
			mode          = excluded.mode,
			state         = excluded.state,
			current_stage = excluded.current_stage,
			error         = excluded.error,
			stages        = excluded.stages,
			queue         = excluded.queue,
			pending       = excluded.pending,
			outputs       = excluded.outputs,
			updated_at    = excluded.updated_at,
			completed_at  = excluded.completed_at`,
		sess.ID, sess.Description, string(sess.Mode), string(sess.State),
		sess.CurrentStage, sess.Error,
		string(stages), string(queue), string(pending), string(outputs),
		sess.CreatedAt.Format(time.RFC3339Nano),
		sess.UpdatedAt.Format(time.RFC3339Nano),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("workflow: save session %s: %w", sess.ID, err)
	}
	return nil
}

// Load returns the stored session.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, mode, state, current_stage, error,
		       stages, queue, pending, outputs, created_at, updated_at, completed_at
		FROM sessions WHERE id = ?`, id)

	var sess Session
	var mode, state string
	var stages, queue, pending, outputs string
	var createdAt, updatedAt, completedAt string

	err := row.Scan(&sess.ID, &sess.Description, &mode, &state,
		&sess.CurrentStage, &sess.Error,
		&stages, &queue, &pending, &outputs,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("workflow: load session %s: %w", id, err)
	}

	sess.Mode = Mode(mode)
	sess.State = State(state)
	if err := json.Unmarshal([]byte(stages), &sess.Stages); err != nil {
		return nil, fmt.Errorf("workflow: decode stages: %w", err)
	}
	if err := json.Unmarshal([]byte(queue), &sess.Queue); err != nil {
		return nil, fmt.Errorf("workflow: decode queue: %w", err)
	}
	if err := json.Unmarshal([]byte(pending), &sess.Pending); err != nil {
		return nil, fmt.Errorf("workflow: decode pending: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &sess.Outputs); err != nil {
		return nil, fmt.Errorf("workflow: decode outputs: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt != "" {
		if sess.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// Delete removes the session. Deleting an unknown ID is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("workflow: delete session %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("workflow: parse timestamp %q: %w", v, err)
	}
	return t, nil
}
