package limit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quotad/internal/database"
)

const createLimitsTableSQL = `
CREATE TABLE IF NOT EXISTS limits (
    resource VARCHAR(255) NOT NULL,
    limit_type VARCHAR(100) NOT NULL,
    quota_limit BIGINT NOT NULL,
    remaining BIGINT NOT NULL,
    reset_time TIMESTAMP NOT NULL,
    options_json TEXT,
    version BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (resource, limit_type)
)`

const selectLimitColumns = `SELECT resource, limit_type, quota_limit, remaining, reset_time, options_json, version, created_at, updated_at FROM limits`

// SQLStore stores records in a "limits" table. It supports SQLite and
// Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the schema if needed. The connection is shared and is
// not closed by the store.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := database.ValidateDialect(dialect); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, dialect: dialect}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(initCtx, createLimitsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create limits table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

func encodeOptions(o *Options) (sql.NullString, error) {
	if o == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal options: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		options sql.NullString
	)
	if err := row.Scan(&rec.Resource, &rec.Type, &rec.Limit, &rec.Remaining, &rec.ResetTime,
		&options, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if options.Valid && options.String != "" {
		rec.Options = &Options{}
		if err := json.Unmarshal([]byte(options.String), rec.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	return &rec, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, rec *Record) error {
	options, err := encodeOptions(rec.Options)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO limits (resource, limit_type, quota_limit, remaining, reset_time, options_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource, limit_type) DO NOTHING`),
		rec.Resource, rec.Type, rec.Limit, rec.Remaining, rec.ResetTime.UTC(),
		options, 1, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert limit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	rec.Version = 1
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(selectLimitColumns+` WHERE resource = ? AND limit_type = ?`),
		key.Resource, key.Type)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query limit: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	query := selectLimitColumns
	var args []any
	if filter.Resource != "" {
		query += ` WHERE resource = ?`
		args = append(args, filter.Resource)
	}
	query += ` ORDER BY resource, limit_type`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query limits: %w", err)
	}
	defer rows.Close()

	out := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan limit: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate limits: %w", err)
	}
	return out, nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, rec *Record) error {
	options, err := encodeOptions(rec.Options)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE limits
		SET quota_limit = ?, remaining = ?, reset_time = ?, options_json = ?, version = ?, updated_at = ?
		WHERE resource = ? AND limit_type = ? AND version = ?`),
		rec.Limit, rec.Remaining, rec.ResetTime.UTC(), options, rec.Version+1, rec.UpdatedAt.UTC(),
		rec.Resource, rec.Type, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update limit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, rec.Key()); err != nil {
			return err
		}
		return ErrConflict
	}
	rec.Version++
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM limits WHERE resource = ? AND limit_type = ?`),
		key.Resource, key.Type)
	if err != nil {
		return fmt.Errorf("failed to delete limit: %w", err)
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

// Close implements Store. The shared connection is left open.
func (s *SQLStore) Close() error {
	return nil
}
