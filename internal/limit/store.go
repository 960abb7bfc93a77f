package limit

import (
	"context"
)

// Store is the persistence layer for quota records.
//
// Implementations must be safe for concurrent use. Records passed in and
// returned are owned by the caller.
type Store interface {
	// Create inserts a new record. It returns ErrAlreadyExists if a record
	// with the same key is present. On success rec.Version is set to 1.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// List returns the records matching filter ordered by resource, then type.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// Update replaces a record if, and only if, the stored version equals
	// rec.Version. It returns ErrNotFound when the key is gone and ErrConflict
	// on a version mismatch. On success rec.Version is incremented.
	Update(ctx context.Context, rec *Record) error

	// Delete removes the record for key or returns ErrNotFound.
	Delete(ctx context.Context, key Key) error

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*SQLStore)(nil)
)
