// Package reaction records which author reacted to which target.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quotad/internal/clock"
)

var ErrNotFound = errors.New("reaction not found")

// Reaction is unique per (author, target).
type Reaction struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store interface {
	// Add inserts r unless the author already reacted to the target, in
	// which case it reports false.
	Add(ctx context.Context, r *Reaction) (bool, error)

	// Remove deletes the author's reaction to target or returns ErrNotFound.
	Remove(ctx context.Context, author, target string) error

	Count(ctx context.Context, target string) (int64, error)
	ListByAuthor(ctx context.Context, author string) ([]*Reaction, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)

type Service struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(store Store, c clock.Clock, logger *slog.Logger) *Service {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, clock: c, logger: logger}
}

// Toggle adds the author's reaction to target, or removes it if present.
// It reports whether the author has reacted afterwards.
func (s *Service) Toggle(ctx context.Context, author, target string) (bool, error) {
	if author == "" || target == "" {
		return false, fmt.Errorf("author and target must not be empty")
	}

	added, err := s.store.Add(ctx, &Reaction{
		ID:        uuid.New().String(),
		Author:    author,
		Target:    target,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return false, err
	}
	if added {
		s.logger.Debug("Reaction added", "author", author, "target", target)
		return true, nil
	}

	err = s.store.Remove(ctx, author, target)
	if errors.Is(err, ErrNotFound) {
		// Removed concurrently; the net state is "not reacted".
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Debug("Reaction removed", "author", author, "target", target)
	return false, nil
}

func (s *Service) Count(ctx context.Context, target string) (int64, error) {
	return s.store.Count(ctx, target)
}

// ListByAuthor returns the author's reactions, newest first.
func (s *Service) ListByAuthor(ctx context.Context, author string) ([]*Reaction, error) {
	return s.store.ListByAuthor(ctx, author)
}
