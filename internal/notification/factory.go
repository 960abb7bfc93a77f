package notification

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quotad/internal/config"
)

// NewStore builds the notification store selected by backend.
func NewStore(ctx context.Context, backend string, db *sql.DB, dialect string) (Store, error) {
	switch backend {
	case config.BackendMemory, "":
		slog.Info("Using in-memory notification store")
		return NewMemoryStore(), nil
	case config.BackendSQL:
		store, err := NewSQLStore(ctx, db, dialect)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQL notification store", "dialect", dialect)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported notification backend: %q", backend)
	}
}
