package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"quotad/internal/clock"
	"quotad/internal/config"
)

// NewStore returns the store selected by backend. A Redis backend that cannot
// be reached falls back to memory.
func NewStore(ctx context.Context, backend string, rdb redis.UniversalClient, c clock.Clock, interval time.Duration) Store {
	if backend == config.BackendRedis && rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis connection failed, falling back to in-memory session store", "error", err)
			return NewMemoryStore(c, interval)
		}
		slog.Info("Using Redis session store")
		return NewRedisStore(rdb, c, interval)
	}

	slog.Info("Using in-memory session store")
	return NewMemoryStore(c, interval)
}
