package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quotad/internal/database"
)

const createNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS notifications (
    id VARCHAR(36) PRIMARY KEY,
    recipient VARCHAR(255) NOT NULL,
    content TEXT NOT NULL,
    is_read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
)`

const createNotificationsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient, created_at)`

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
	for _, stmt := range []string{createNotificationsTableSQL, createNotificationsIndexSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create notifications schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

func (s *SQLStore) Create(ctx context.Context, n *Notification) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (id, recipient, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		n.ID, n.Recipient, n.Content, n.Read, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, recipient, content, is_read, created_at FROM notifications WHERE id = ?`), id).
		Scan(&n.ID, &n.Recipient, &n.Content, &n.Read, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return &n, nil
}

func (s *SQLStore) List(ctx context.Context, recipient string, read *bool) ([]*Notification, error) {
	query := `SELECT id, recipient, content, is_read, created_at FROM notifications WHERE recipient = ?`
	args := []any{recipient}
	if read != nil {
		query += ` AND is_read = ?`
		args = append(args, *read)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Content, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetRead(ctx context.Context, id string, read bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET is_read = ? WHERE id = ?`), read, id)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return requireOneRow(res)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notifications WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
