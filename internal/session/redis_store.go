package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quotad/internal/clock"
	"quotad/internal/constants"
)

// document is the JSON layout of a session in Redis. Timestamps are kept as
// RFC 3339 strings, empty when unset.
type document struct {
	ID         string `json:"id"`
	User       string `json:"user,omitempty"`
	LoginTime  string `json:"loginTime,omitempty"`
	LogoutTime string `json:"logoutTime,omitempty"`
	Charged    string `json:"chargedUntil,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
	}
	return t, nil
}

type RedisStore struct {
	client redis.UniversalClient
	clock  clock.Clock
	logger *slog.Logger

	expireMu sync.RWMutex
	onExpire func(id string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisStore wraps a shared client. Close stops the cleanup loop but
// leaves the client open.
func NewRedisStore(client redis.UniversalClient, c clock.Clock, interval time.Duration) *RedisStore {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = constants.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &RedisStore{
		client: client,
		clock:  c,
		logger: slog.Default().With("component", "session-store"),
		cancel: cancel,
	}

	st.wg.Add(1)
	go st.cleanupLoop(ctx, interval)
	return st
}

func redisKey(id string) string {
	return constants.RedisSessionPrefix + id
}

func (st *RedisStore) OnExpire(fn func(id string)) {
	st.expireMu.Lock()
	defer st.expireMu.Unlock()
	st.onExpire = fn
}

func (st *RedisStore) expired(id string) {
	st.expireMu.RLock()
	fn := st.onExpire
	st.expireMu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

func (st *RedisStore) encode(state *State) ([]byte, error) {
	return json.Marshal(document{
		ID:         state.ID,
		User:       state.User,
		LoginTime:  formatTimestamp(state.LoginTime),
		LogoutTime: formatTimestamp(state.LogoutTime),
		Charged:    formatTimestamp(state.ChargedUntil),
		CreatedAt:  formatTimestamp(state.CreatedAt),
		ExpiresAt:  formatTimestamp(state.ExpiresAt),
	})
}

// decode never fails on a bad timestamp; the field is left zero and the
// problem is logged.
func (st *RedisStore) decode(data string) (*State, error) {
	var doc document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	state := &State{ID: doc.ID, User: doc.User}
	fields := []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"loginTime", doc.LoginTime, &state.LoginTime},
		{"logoutTime", doc.LogoutTime, &state.LogoutTime},
		{"chargedUntil", doc.Charged, &state.ChargedUntil},
		{"createdAt", doc.CreatedAt, &state.CreatedAt},
		{"expiresAt", doc.ExpiresAt, &state.ExpiresAt},
	}
	for _, f := range fields {
		t, err := parseTimestamp(f.raw)
		if err != nil {
			st.logger.Warn("Ignoring session timestamp", "session", doc.ID, "field", f.name, "error", err)
			continue
		}
		*f.dst = t
	}
	return state, nil
}

func (st *RedisStore) Save(ctx context.Context, state *State) error {
	var ttl time.Duration
	if !state.ExpiresAt.IsZero() {
		ttl = state.ExpiresAt.Sub(st.clock.Now())
		if ttl <= 0 {
			return st.Delete(ctx, state.ID)
		}
	}

	data, err := st.encode(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := st.client.Set(ctx, redisKey(state.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session to redis: %w", err)
	}
	return nil
}

func (st *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	data, err := st.client.Get(ctx, redisKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	state, err := st.decode(data)
	if err != nil {
		return nil, err
	}
	if state.IsExpired(st.clock.Now()) {
		if err := st.Delete(ctx, id); err != nil {
			return nil, err
		}
		st.expired(id)
		return nil, ErrNotFound
	}
	return state, nil
}

func (st *RedisStore) Delete(ctx context.Context, id string) error {
	if err := st.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// scan walks every session document. Documents that fail to decode are
// logged and skipped.
func (st *RedisStore) scan(ctx context.Context, fn func(key string, state *State)) error {
	iter := st.client.Scan(ctx, 0, constants.RedisSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := st.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to get session from redis: %w", err)
		}
		state, err := st.decode(data)
		if err != nil {
			st.logger.Warn("Skipping unreadable session", "key", key, "error", err)
			continue
		}
		if state.ID == "" {
			state.ID = strings.TrimPrefix(key, constants.RedisSessionPrefix)
		}
		fn(key, state)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan error: %w", err)
	}
	return nil
}

func (st *RedisStore) ListActive(ctx context.Context) ([]*State, error) {
	now := st.clock.Now()
	out := make([]*State, 0)
	err := st.scan(ctx, func(_ string, state *State) {
		if state.LoggedIn() && !state.IsExpired(now) {
			out = append(out, state)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *RedisStore) Close() error {
	st.cancel()
	st.wg.Wait()
	return nil
}

func (st *RedisStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer st.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.cleanupExpired(ctx); err != nil {
				st.logger.Error("Session cleanup failed", "error", err)
			}
		}
	}
}

// cleanupExpired removes documents whose expiry has passed by the store's
// clock. Redis TTLs normally get there first; this catches documents saved
// without one.
func (st *RedisStore) cleanupExpired(ctx context.Context) (int, error) {
	now := st.clock.Now()
	var expired []string
	err := st.scan(ctx, func(_ string, state *State) {
		if state.IsExpired(now) {
			expired = append(expired, state.ID)
		}
	})
	if err != nil {
		return 0, err
	}

	for _, id := range expired {
		if err := st.Delete(ctx, id); err != nil {
			return 0, err
		}
		st.expired(id)
		st.logger.Debug("Expired session cleaned up", "session", id)
	}
	return len(expired), nil
}
