// Package notification stores per-user notifications and pushes new ones to
// connected WebSocket clients.
package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown ids and for ids owned by another
	// recipient.
	ErrNotFound = errors.New("notification not found")

	ErrInvalidContent = errors.New("notification content must be non-empty and at most 1024 bytes")
)

type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Store persists notifications. List returns the newest first; a nil read
// filter matches both states.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, recipient string, read *bool) ([]*Notification, error)
	SetRead(ctx context.Context, id string, read bool) error
	Delete(ctx context.Context, id string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
