package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quotad/internal/clock"
	"quotad/internal/constants"
)

// keyedMutex hands out one mutex per session id and forgets it once no
// caller holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

type ManagerOption func(*Manager)

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithTTL sets the idle expiry of session records.
func WithTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = d }
}

// Manager drives the login state of sessions held in a Store. State changes
// on one session are serialized, so a forced logout and a client logout
// racing on the same session cannot both succeed.
type Manager struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
	ttl    time.Duration
	locks  keyedMutex
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		clock:  clock.Real(),
		logger: slog.Default(),
		ttl:    constants.SessionDuration,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) load(ctx context.Context, id string) (*State, error) {
	state, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		now := m.clock.Now()
		return &State{ID: id, CreatedAt: now}, nil
	}
	return state, err
}

func (m *Manager) save(ctx context.Context, state *State) error {
	state.ExpiresAt = m.clock.Now().Add(m.ttl)
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.ID, err)
	}
	return nil
}

// Touch extends the idle expiry of an existing session. It returns
// ErrNotFound rather than creating a record; records are created on login.
func (m *Manager) Touch(ctx context.Context, id string) (*State, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	state, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get returns the stored state, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*State, error) {
	return m.store.Get(ctx, id)
}

// Start logs user in on session id.
func (m *Manager) Start(ctx context.Context, id, user string) (*State, error) {
	if user == "" {
		return nil, fmt.Errorf("user must not be empty")
	}

	unlock := m.locks.lock(id)
	defer unlock()

	state, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if state.LoggedIn() {
		return nil, ErrAlreadyLoggedIn
	}

	state.User = user
	state.LoginTime = m.clock.Now()
	state.LogoutTime = time.Time{}
	state.ChargedUntil = time.Time{}
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.Info("Session started", "session", id, "user", user)
	return state, nil
}

// End logs the session out. The returned state keeps the user that was
// logged out in User so callers can account for it; the stored state has no
// user.
func (m *Manager) End(ctx context.Context, id string) (*State, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	state, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, err
	}
	if !state.LoggedIn() {
		return nil, ErrNotLoggedIn
	}

	user := state.User
	state.User = ""
	state.LogoutTime = m.clock.Now()
	if err := m.save(ctx, state); err != nil {
		return nil, err
	}

	m.logger.Info("Session ended", "session", id, "user", user,
		"duration", state.LogoutTime.Sub(state.LoginTime).Round(time.Second))

	ended := state.Clone()
	ended.User = user
	return ended, nil
}

// MarkCharged records that the login that started at login has been charged
// up to until. It leaves the idle expiry alone and does nothing once the
// session has logged in again or has already been charged further.
func (m *Manager) MarkCharged(ctx context.Context, id string, login, until time.Time) error {
	unlock := m.locks.lock(id)
	defer unlock()

	state, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !state.LoginTime.Equal(login) || !until.After(state.ChargedUntil) {
		return nil
	}

	state.ChargedUntil = until
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

// GetUser returns the logged in user or ErrNotLoggedIn.
func (m *Manager) GetUser(ctx context.Context, id string) (string, error) {
	state, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", err
	}
	if !state.LoggedIn() {
		return "", ErrNotLoggedIn
	}
	return state.User, nil
}

// IsLoggedIn returns nil when the session has a user and ErrNotLoggedIn
// otherwise.
func (m *Manager) IsLoggedIn(ctx context.Context, id string) error {
	_, err := m.GetUser(ctx, id)
	return err
}

// IsLoggedOut returns nil when the session has no user and
// ErrAlreadyLoggedIn otherwise.
func (m *Manager) IsLoggedOut(ctx context.Context, id string) error {
	_, err := m.GetUser(ctx, id)
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		return nil
	case err != nil:
		return err
	default:
		return ErrAlreadyLoggedIn
	}
}

// CalculateTimeLoggedIn returns how long the current or last login lasted:
// up to now while logged in, frozen at the logout time afterwards. It never
// fails; unknown sessions and missing or unreadable login times yield 0.
func (m *Manager) CalculateTimeLoggedIn(ctx context.Context, id string) time.Duration {
	state, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Could not load session for elapsed time", "session", id, "error", err)
		}
		return 0
	}
	return TimeLoggedIn(state, m.clock.Now())
}

// TimeLoggedIn computes the elapsed login time of state at now.
func TimeLoggedIn(state *State, now time.Time) time.Duration {
	if state.LoginTime.IsZero() {
		return 0
	}
	end := now
	if !state.LoggedIn() {
		if !state.LogoutTime.After(state.LoginTime) {
			return 0
		}
		end = state.LogoutTime
	}
	if d := end.Sub(state.LoginTime); d > 0 {
		return d
	}
	return 0
}

// ActiveSessions returns every logged in session.
func (m *Manager) ActiveSessions(ctx context.Context) ([]*State, error) {
	return m.store.ListActive(ctx)
}
