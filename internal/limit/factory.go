package limit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"quotad/internal/config"
)

// NewStore builds the store selected by backend. rdb and db are only used by
// the redis and sql backends respectively.
func NewStore(ctx context.Context, backend string, rdb redis.UniversalClient, db *sql.DB, dialect string) (Store, error) {
	switch backend {
	case config.BackendMemory, "":
		slog.Info("Using in-memory limit store")
		return NewMemoryStore(), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis limit store requires a redis client")
		}
		slog.Info("Using Redis limit store")
		return NewRedisStore(rdb), nil
	case config.BackendSQL:
		store, err := NewSQLStore(ctx, db, dialect)
		if err != nil {
			return nil, err
		}
		slog.Info("Using SQL limit store", "dialect", dialect)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported limit backend: %q", backend)
	}
}
