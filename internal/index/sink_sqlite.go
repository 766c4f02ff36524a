package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteSink keeps a local full-text index of every run in one database.
type SQLiteSink struct {
	path string
	db   *sql.DB
}

// Hit is one search result.
type Hit struct {
	Index  string `json:"index"`
	RunID  string `json:"run_id"`
	ID     int    `json:"id"`
	Entity string `json:"Entity"`
	Type   string `json:"Type"`
}

// OpenSQLite opens (or creates) the index database at path. Use ":memory:"
// for a process-local index.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{path: path, db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	idx TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	documents INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS entities USING fts5(
	entity,
	type,
	idx UNINDEXED,
	doc_id UNINDEXED
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Name() string { return "sqlite:" + s.path }

// Deliver replaces any documents previously stored under b.Index.
func (s *SQLiteSink) Deliver(ctx context.Context, b *Batch) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE idx = ?`, b.Index); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entities (entity, type, idx, doc_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, doc := range b.Documents {
		if _, err := stmt.ExecContext(ctx, doc.Entity, doc.Type, b.Index, doc.ID); err != nil {
			return fmt.Errorf("insert document %d: %w", doc.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (idx, run_id, created_at, documents) VALUES (?, ?, ?, ?)
		 ON CONFLICT(idx) DO UPDATE SET run_id = excluded.run_id, created_at = excluded.created_at, documents = excluded.documents`,
		b.Index, b.RunID, b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"), len(b.Documents),
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return tx.Commit()
}

// Search matches query as a phrase against entity values and types. An
// empty indexName searches every run.
func (s *SQLiteSink) Search(ctx context.Context, indexName, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	q := `SELECT entities.idx, COALESCE(runs.run_id, ''), entities.doc_id, entities.entity, entities.type
		FROM entities LEFT JOIN runs ON runs.idx = entities.idx
		WHERE entities MATCH ?`
	args := []any{phrase}
	if indexName != "" {
		q += ` AND entities.idx = ?`
		args = append(args, indexName)
	}
	q += ` ORDER BY entities.rank, entities.doc_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Index, &h.RunID, &h.ID, &h.Entity, &h.Type); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteSink) Close(context.Context) error {
	return s.db.Close()
}
