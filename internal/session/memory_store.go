package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quotad/internal/clock"
	"quotad/internal/constants"
)

type MemoryStore struct {
	sessions sync.Map
	clock    clock.Clock
	logger   *slog.Logger

	expireMu sync.RWMutex
	onExpire func(id string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryStore starts a store whose cleanup loop runs every interval until
// Close is called.
func NewMemoryStore(c clock.Clock, interval time.Duration) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = constants.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &MemoryStore{
		clock:  c,
		logger: slog.Default().With("component", "session-store"),
		cancel: cancel,
	}

	st.wg.Add(1)
	go st.cleanupLoop(ctx, interval)
	return st
}

func (st *MemoryStore) OnExpire(fn func(id string)) {
	st.expireMu.Lock()
	defer st.expireMu.Unlock()
	st.onExpire = fn
}

func (st *MemoryStore) expired(id string) {
	st.expireMu.RLock()
	fn := st.onExpire
	st.expireMu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

func (st *MemoryStore) Save(ctx context.Context, state *State) error {
	st.sessions.Store(state.ID, state.Clone())
	return nil
}

func (st *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	val, ok := st.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	state := val.(*State)
	if state.IsExpired(st.clock.Now()) {
		if st.sessions.CompareAndDelete(id, val) {
			st.expired(id)
		}
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (st *MemoryStore) Delete(ctx context.Context, id string) error {
	st.sessions.Delete(id)
	return nil
}

func (st *MemoryStore) ListActive(ctx context.Context) ([]*State, error) {
	now := st.clock.Now()
	out := make([]*State, 0)
	st.sessions.Range(func(_, value any) bool {
		state := value.(*State)
		if state.LoggedIn() && !state.IsExpired(now) {
			out = append(out, state.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close stops the cleanup loop.
func (st *MemoryStore) Close() error {
	st.cancel()
	st.wg.Wait()
	return nil
}

func (st *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer st.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.cleanupExpired()
		}
	}
}

func (st *MemoryStore) cleanupExpired() int {
	now := st.clock.Now()
	removed := 0
	st.sessions.Range(func(key, value any) bool {
		state := value.(*State)
		if state.IsExpired(now) && st.sessions.CompareAndDelete(key, value) {
			id := key.(string)
			st.expired(id)
			removed++
			st.logger.Debug("Expired session cleaned up", "session", id)
		}
		return true
	})
	return removed
}
