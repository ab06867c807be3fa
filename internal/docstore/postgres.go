package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Postgres keeps documents as jsonb rows in a single table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps a pgx-backed *sql.DB.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the documents table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			seq         BIGSERIAL,
			collection  TEXT NOT NULL,
			key         TEXT NOT NULL,
			body        JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_body ON documents USING GIN (body jsonb_path_ops);
	`)
	return err
}

// Get decodes the document at key.
func (p *Postgres) Get(ctx context.Context, collection, key string, dst any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	var body []byte
	row := p.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = $1 AND key = $2`, collection, key)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// Set upserts a document.
func (p *Postgres) Set(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = NOW()
	`, collection, key, body)
	return err
}

// Create inserts only when the key is free.
func (p *Postgres) Create(ctx context.Context, collection, key string, doc any) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, key, err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO NOTHING
	`, collection, key, body)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Query runs a filtered scan using jsonb containment.
func (p *Postgres) Query(ctx context.Context, q Query) ([]Snapshot, error) {
	query, args, err := buildPostgresQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Snapshot
	for rows.Next() {
		var s jsonSnapshot
		if err := rows.Scan(&s.key, &s.body); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func buildPostgresQuery(q Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	args := []any{q.Collection}
	clauses := []string{"collection = $1"}
	for _, f := range q.Filters {
		var probe map[string]any
		switch f.Op {
		case OpEqual:
			probe = map[string]any{f.Field: f.Value}
		case OpArrayContains:
			probe = map[string]any{f.Field: []any{f.Value}}
		}
		raw, err := json.Marshal(probe)
		if err != nil {
			return "", nil, fmt.Errorf("docstore: encode filter: %w", err)
		}
		args = append(args, string(raw))
		clauses = append(clauses, fmt.Sprintf("body @> $%d::jsonb", len(args)))
	}
	query := "SELECT key, body FROM documents WHERE " + strings.Join(clauses, " AND ")
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		// field names are validated against fieldPattern, so inlining is safe
		query += fmt.Sprintf(" ORDER BY body->>'%s' %s, seq", q.OrderBy, dir)
	} else {
		query += " ORDER BY seq"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}
