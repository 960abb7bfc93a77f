package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"quotad/internal/clock"
	"quotad/internal/constants"
)

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service stores notifications and publishes new ones on its Hub.
type Service struct {
	store  Store
	hub    *Hub
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(store Store, hub *Hub, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hub:    hub,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Hub() *Hub {
	return s.hub
}

// Send stores a new unread notification for recipient and pushes it to the
// recipient's live connections.
func (s *Service) Send(ctx context.Context, recipient, content string) (*Notification, error) {
	if content == "" || len(content) > constants.MaxNotificationLen {
		return nil, ErrInvalidContent
	}
	if recipient == "" {
		return nil, fmt.Errorf("recipient must not be empty")
	}

	n := &Notification{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.hub != nil {
		delivered := s.hub.Publish(n)
		s.logger.Debug("Notification sent", "recipient", recipient, "id", n.ID, "live", delivered)
	}
	return n, nil
}

// Notify is Send without the result.
func (s *Service) Notify(ctx context.Context, recipient, content string) error {
	_, err := s.Send(ctx, recipient, content)
	return err
}

// List returns the recipient's notifications, newest first. A non-nil read
// restricts the result to read or unread ones.
func (s *Service) List(ctx context.Context, recipient string, read *bool) ([]*Notification, error) {
	return s.store.List(ctx, recipient, read)
}

func (s *Service) owned(ctx context.Context, recipient, id string) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Recipient != recipient {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, recipient, id string) error {
	if _, err := s.owned(ctx, recipient, id); err != nil {
		return err
	}
	return s.store.SetRead(ctx, id, true)
}

func (s *Service) MarkUnread(ctx context.Context, recipient, id string) error {
	if _, err := s.owned(ctx, recipient, id); err != nil {
		return err
	}
	return s.store.SetRead(ctx, id, false)
}

// Clear deletes one of the recipient's notifications.
func (s *Service) Clear(ctx context.Context, recipient, id string) error {
	if _, err := s.owned(ctx, recipient, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}
