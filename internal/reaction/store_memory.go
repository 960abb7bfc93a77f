package reaction

import (
	"context"
	"sort"
	"sync"
)

type memoryKey struct {
	author string
	target string
}

type MemoryStore struct {
	mu        sync.RWMutex
	reactions map[memoryKey]Reaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reactions: make(map[memoryKey]Reaction)}
}

func (s *MemoryStore) Add(ctx context.Context, r *Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{author: r.Author, target: r.Target}
	if _, exists := s.reactions[key]; exists {
		return false, nil
	}
	s.reactions[key] = *r
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, author, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{author: author, target: target}
	if _, exists := s.reactions[key]; !exists {
		return ErrNotFound
	}
	delete(s.reactions, key)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, target string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key := range s.reactions {
		if key.target == target {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListByAuthor(ctx context.Context, author string) ([]*Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Reaction, 0)
	for key, r := range s.reactions {
		if key.author == author {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}
