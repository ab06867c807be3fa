package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps the Postgres pool behind STORE_BACKEND=postgres. The pool is
// handed to docstore.NewPostgres, which keeps every ledger collection in one
// JSONB documents table.
type DB struct {
	Client *sql.DB
}

// NewDB opens a pgx-backed pool and pings it within five seconds. The
// returned DB is usable for Close even when the ping fails, which is how
// OpenDocStore cleans up an unreachable database.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
