package session

import (
	"context"
	"time"
)

// State is the persisted state of one HTTP session.
type State struct {
	ID   string
	User string

	LoginTime  time.Time
	LogoutTime time.Time

	// ChargedUntil is how far the current login has been charged against
	// its owner's quota.
	ChargedUntil time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// LoggedIn reports whether a user is attached.
func (s *State) LoggedIn() bool {
	return s.User != ""
}

// IsExpired reports whether the record's idle expiry has passed.
func (s *State) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Store persists session states and doubles as the registry of active
// sessions.
type Store interface {
	Save(ctx context.Context, state *State) error

	// Get returns ErrNotFound for unknown and expired sessions.
	Get(ctx context.Context, id string) (*State, error)

	Delete(ctx context.Context, id string) error

	// ListActive returns the sessions that currently have a user.
	ListActive(ctx context.Context) ([]*State, error)

	// OnExpire registers a callback invoked with the id of every session the
	// store expires.
	OnExpire(fn func(id string))

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
