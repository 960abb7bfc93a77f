package reaction

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"quotad/internal/config"
)

// NewStore builds the reaction store selected by backend.
func NewStore(ctx context.Context, backend string, db *sql.DB, dialect string) (Store, error) {
	switch backend {
	case config.BackendMemory, "":
		slog.Info("Using in-memory reaction store")
		return NewMemoryStore(), nil
	case config.BackendSQL:
		store, err := NewSQLStore(ctx, db, dialect)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQL reaction store", "dialect", dialect)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported reaction backend: %q", backend)
	}
}
