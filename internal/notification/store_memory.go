package notification

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Notification)}
}

func (s *MemoryStore) Create(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = n.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, recipient string, read *bool) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Notification, 0)
	for _, n := range s.items {
		if n.Recipient != recipient {
			continue
		}
		if read != nil && n.Read != *read {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SetRead(ctx context.Context, id string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = read
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}
