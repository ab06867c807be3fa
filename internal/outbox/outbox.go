// Package outbox keeps sessions that could not reach the document store in a
// local SQLite file until they can be replayed.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"ledger/internal/attendance"
)

// Entry is one pending session.
type Entry struct {
	ID        string
	Key       string
	Session   attendance.Session
	QueuedAt  time.Time
	Attempts  int
	LastError string
}

// Outbox is a durable queue of pending sessions keyed by session key.
type Outbox struct {
	db *sql.DB
}

// Open creates or opens the outbox file at path.
func Open(path string) (*Outbox, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping outbox: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	return &Outbox{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_sessions (
		id          TEXT PRIMARY KEY,
		session_key TEXT UNIQUE NOT NULL,
		body        TEXT NOT NULL,
		queued_at   INTEGER NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_pending_queued ON pending_sessions(queued_at);
	`
	_, err := db.Exec(schema)
	return err
}

func (o *Outbox) Close() error { return o.db.Close() }

// Enqueue stores s. A second enqueue for the same key replaces the body
// and resets the attempt count.
func (o *Outbox) Enqueue(ctx context.Context, s attendance.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key, err)
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO pending_sessions (id, session_key, body, queued_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
		   body = excluded.body,
		   queued_at = excluded.queued_at,
		   attempts = 0,
		   last_error = ''`,
		uuid.New().String(), s.Key, string(body), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("enqueue session %s: %w", s.Key, err)
	}
	return nil
}

// Pending lists entries oldest first. limit <= 0 means all.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, session_key, body, queued_at, attempts, last_error
		FROM pending_sessions ORDER BY queued_at, session_key`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			body   string
			queued int64
		)
		if err := rows.Scan(&e.ID, &e.Key, &body, &queued, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &e.Session); err != nil {
			return nil, fmt.Errorf("decode pending session %s: %w", e.Key, err)
		}
		e.QueuedAt = time.Unix(0, queued).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove drops the entry for key. Removing a missing key is not an error.
func (o *Outbox) Remove(ctx context.Context, key string) error {
	_, err := o.db.ExecContext(ctx, `DELETE FROM pending_sessions WHERE session_key = ?`, key)
	return err
}

// MarkFailed records a failed replay attempt.
func (o *Outbox) MarkFailed(ctx context.Context, key string, cause error) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE pending_sessions SET attempts = attempts + 1, last_error = ? WHERE session_key = ?`,
		cause.Error(), key,
	)
	return err
}

// Len counts pending entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_sessions`).Scan(&n)
	return n, err
}
