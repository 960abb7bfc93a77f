package reaction

import (
	"context"
	"database/sql"
	"fmt"

	"quotad/internal/database"
)

const createReactionsTableSQL = `
CREATE TABLE IF NOT EXISTS reactions (
    id VARCHAR(36) PRIMARY KEY,
    author VARCHAR(255) NOT NULL,
    target VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (author, target)
)`

const createReactionsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_reactions_target ON reactions (target)`

type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := database.ValidateDialect(dialect); err != nil {
		return nil, err
	}
	for _, stmt := range []string{createReactionsTableSQL, createReactionsIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create reactions schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

func (s *SQLStore) Add(ctx context.Context, r *Reaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO reactions (id, author, target, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (author, target) DO NOTHING`),
		r.ID, r.Author, r.Target, r.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Remove(ctx context.Context, author, target string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM reactions WHERE author = ? AND target = ?`), author, target)
	if err != nil {
		return fmt.Errorf("failed to delete reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, target string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM reactions WHERE target = ?`), target).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reactions: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ListByAuthor(ctx context.Context, author string) ([]*Reaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, author, target, created_at FROM reactions
		WHERE author = ? ORDER BY created_at DESC, target`), author)
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	out := make([]*Reaction, 0)
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.Author, &r.Target, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
