package limit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a (resource, type) key.
	ErrNotFound = errors.New("limit not found")

	// ErrQuotaExceeded is returned when a decrement would drive the remaining
	// quota negative.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyExists is returned by Store.Create when the key is taken.
	ErrAlreadyExists = errors.New("limit already exists")

	// ErrConflict is returned by Store.Update when the record changed since it
	// was read.
	ErrConflict = errors.New("limit was modified concurrently")

	ErrInvalidAmount   = errors.New("amount must not be negative")
	ErrInvalidResource = errors.New("resource must not be empty")
)

// QuotaExceededError carries the pool state at the time a decrement was
// refused, so callers can back off.
type QuotaExceededError struct {
	Resource  string
	Type      string
	Requested int64
	Remaining int64
	ResetTime time.Time

	// RetryAfter is the wait until the reset time, zero when already due.
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s: requested %d, remaining %d",
		e.Resource, e.Type, e.Requested, e.Remaining)
}

// Unwrap returns ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsQuotaExceeded reports whether err is a quota exhaustion error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// AsQuotaExceeded extracts the QuotaExceededError from err, or nil.
func AsQuotaExceeded(err error) *QuotaExceededError {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe
	}
	return nil
}
