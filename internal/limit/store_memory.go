package limit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. It is suitable for development, tests
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]*Record),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, exists := s.records[key]; exists {
		return ErrAlreadyExists
	}
	rec.Version = 1
	s.records[key] = rec.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, rec := range s.records {
		if filter.matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	current, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != rec.Version {
		return ErrConflict
	}
	rec.Version++
	s.records[key] = rec.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Size returns the number of records.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortRecords(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Resource != recs[j].Resource {
			return recs[i].Resource < recs[j].Resource
		}
		return recs[i].Type < recs[j].Type
	})
}
