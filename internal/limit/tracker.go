package limit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotad/internal/clock"
	"quotad/internal/constants"
)

// Recorder receives one observation per tracker operation.
type Recorder interface {
	ObserveLimitOperation(op, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveLimitOperation(string, string) {}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow sets the default reset window.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		t.window = d
	}
}

// WithTypeWindow overrides the reset window for one limit type.
func WithTypeWindow(limitType string, d time.Duration) Option {
	return func(t *Tracker) {
		t.windows[limitType] = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

func WithRecorder(r Recorder) Option {
	return func(t *Tracker) {
		t.recorder = r
	}
}

// WithMaxAttempts bounds the compare-and-swap retries of one operation.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		t.maxAttempts = n
	}
}

// Tracker owns the quota records of a Store and implements the quota
// operations on top of it.
type Tracker struct {
	store       Store
	clock       clock.Clock
	logger      *slog.Logger
	recorder    Recorder
	window      time.Duration
	windows     map[string]time.Duration
	maxAttempts int
}

func NewTracker(store Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	t := &Tracker{
		store:       store,
		clock:       clock.Real(),
		logger:      slog.Default(),
		recorder:    noopRecorder{},
		window:      constants.DefaultResetWindow,
		windows:     make(map[string]time.Duration),
		maxAttempts: constants.MaxUpdateAttempts,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.window <= 0 {
		return nil, fmt.Errorf("reset window must be positive, got %s", t.window)
	}
	for typ, w := range t.windows {
		if w <= 0 {
			return nil, fmt.Errorf("reset window for %q must be positive, got %s", typ, w)
		}
	}
	if t.maxAttempts < 1 {
		t.maxAttempts = 1
	}
	return t, nil
}

// Window returns the reset window used for limitType.
func (t *Tracker) Window(limitType string) time.Duration {
	if w, ok := t.windows[limitType]; ok {
		return w
	}
	return t.window
}

func (t *Tracker) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrQuotaExceeded):
		outcome = "exceeded"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidResource):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	t.recorder.ObserveLimitOperation(op, outcome)
}

func validateKey(resource string) error {
	if resource == "" {
		return ErrInvalidResource
	}
	return nil
}

// SetLimit creates the pool for (resource, limitType) or reconfigures the
// existing one.
//
// A new pool starts full. On an existing pool the limit and options are
// replaced, remaining is lowered to the new limit if needed but never raised,
// and the reset time is pushed one window past now.
func (t *Tracker) SetLimit(ctx context.Context, resource string, limit int64, limitType string, opts *Options) (rec *Record, err error) {
	defer func() { t.observe("set", err) }()

	if err := validateKey(resource); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidAmount)
	}

	key := Key{Resource: resource, Type: limitType}
	rec, err = t.upsert(ctx, key, limit, opts, func(r *Record, now time.Time) error {
		r.Limit = limit
		r.Remaining = min(r.Remaining, limit)
		r.ResetTime = now.Add(t.Window(limitType))
		r.Options = opts.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Limit set", "resource", resource, "type", limitType, "limit", rec.Limit, "remaining", rec.Remaining)
	return rec, nil
}

// EnsureLimit returns the existing pool untouched, or creates it with
// defaultLimit exactly as SetLimit would.
func (t *Tracker) EnsureLimit(ctx context.Context, resource string, limitType string, defaultLimit int64) (rec *Record, err error) {
	defer func() { t.observe("ensure", err) }()

	if err := validateKey(resource); err != nil {
		return nil, err
	}
	if defaultLimit < 0 {
		return nil, fmt.Errorf("limit %d: %w", defaultLimit, ErrInvalidAmount)
	}

	key := Key{Resource: resource, Type: limitType}
	return t.upsert(ctx, key, defaultLimit, nil, nil)
}

// upsert creates the pool when absent. When present, update is applied
// through mutate; a nil update returns the stored record as is.
func (t *Tracker) upsert(ctx context.Context, key Key, limit int64, opts *Options, update func(*Record, time.Time) error) (*Record, error) {
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		rec, err := t.store.Get(ctx, key)
		if err == nil {
			if update == nil {
				return rec, nil
			}
			return t.mutate(ctx, key, update)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		now := t.clock.Now()
		rec = &Record{
			Resource:  key.Resource,
			Type:      key.Type,
			Limit:     limit,
			Remaining: limit,
			ResetTime: now.Add(t.Window(key.Type)),
			Options:   opts.clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = t.store.Create(ctx, rec)
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a creation race; apply the update to the winner's record.
			continue
		}
		if err != nil {
			return nil, err
		}
		t.logger.Info("Limit created", "resource", key.Resource, "type", key.Type, "limit", limit)
		return rec, nil
	}
	return nil, fmt.Errorf("limit %s: %w", key, ErrConflict)
}

// mutate reads the record, applies fn and writes it back with a version
// check, retrying on conflicts. If fn returns an error nothing is written.
func (t *Tracker) mutate(ctx context.Context, key Key, fn func(*Record, time.Time) error) (*Record, error) {
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		rec, err := t.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		now := t.clock.Now()
		if err := fn(rec, now); err != nil {
			return nil, err
		}
		rec.normalize()
		rec.UpdatedAt = now

		err = t.store.Update(ctx, rec)
		if errors.Is(err, ErrConflict) {
			t.logger.Debug("Limit update conflict, retrying", "resource", key.Resource, "type", key.Type, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("limit %s: %w", key, ErrConflict)
}

// Decrement takes amount from the pool. It is all or nothing: when amount
// exceeds the remaining quota a *QuotaExceededError is returned and the
// record is left unchanged.
func (t *Tracker) Decrement(ctx context.Context, resource string, amount int64, limitType string) (rec *Record, err error) {
	defer func() { t.observe("decrement", err) }()

	if err := validateKey(resource); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("amount %d: %w", amount, ErrInvalidAmount)
	}

	key := Key{Resource: resource, Type: limitType}
	return t.mutate(ctx, key, func(r *Record, now time.Time) error {
		if amount > r.Remaining {
			retry := r.ResetTime.Sub(now)
			if retry < 0 {
				retry = 0
			}
			return &QuotaExceededError{
				Resource:   resource,
				Type:       limitType,
				Requested:  amount,
				Remaining:  r.Remaining,
				ResetTime:  r.ResetTime,
				RetryAfter: retry,
			}
		}
		r.Remaining -= amount
		return nil
	})
}

// Refund gives amount back to the pool, never beyond its limit. It undoes a
// Decrement whose work did not happen.
func (t *Tracker) Refund(ctx context.Context, resource string, amount int64, limitType string) (rec *Record, err error) {
	defer func() { t.observe("refund", err) }()

	if err := validateKey(resource); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("amount %d: %w", amount, ErrInvalidAmount)
	}

	return t.mutate(ctx, Key{Resource: resource, Type: limitType}, func(r *Record, _ time.Time) error {
		r.Remaining += amount
		return nil
	})
}

// GetRemaining returns the remaining quota of the pool.
func (t *Tracker) GetRemaining(ctx context.Context, resource string, limitType string) (remaining int64, err error) {
	defer func() { t.observe("remaining", err) }()

	rec, err := t.store.Get(ctx, Key{Resource: resource, Type: limitType})
	if err != nil {
		return 0, err
	}
	return rec.Remaining, nil
}

// Reset refills the pool and starts a new window.
func (t *Tracker) Reset(ctx context.Context, resource string, limitType string) (rec *Record, err error) {
	defer func() { t.observe("reset", err) }()

	key := Key{Resource: resource, Type: limitType}
	rec, err = t.mutate(ctx, key, func(r *Record, now time.Time) error {
		r.Remaining = r.Limit
		r.ResetTime = now.Add(t.Window(limitType))
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Limit reset", "resource", resource, "type", limitType, "limit", rec.Limit)
	return rec, nil
}

// GetStatus returns the pool state verbatim. An elapsed reset time is
// reported as is; resets only happen through Reset or SetLimit.
func (t *Tracker) GetStatus(ctx context.Context, resource string, limitType string) (status Status, err error) {
	defer func() { t.observe("status", err) }()

	rec, err := t.store.Get(ctx, Key{Resource: resource, Type: limitType})
	if err != nil {
		return Status{}, err
	}
	return Status{
		Limit:     rec.Limit,
		Remaining: rec.Remaining,
		ResetTime: rec.ResetTime,
	}, nil
}

// TimeUntilReset reports whether the reset time has passed and, if not, the
// wait rounded up to whole hours.
func (t *Tracker) TimeUntilReset(ctx context.Context, resource string, limitType string) (wait ResetWait, err error) {
	defer func() { t.observe("reset_in", err) }()

	rec, err := t.store.Get(ctx, Key{Resource: resource, Type: limitType})
	if err != nil {
		return ResetWait{}, err
	}

	now := t.clock.Now()
	if !rec.ResetTime.After(now) {
		return ResetWait{Due: true, ResetTime: rec.ResetTime}, nil
	}
	return ResetWait{
		Hours:     ceilHours(rec.ResetTime.Sub(now)),
		ResetTime: rec.ResetTime,
	}, nil
}

// List returns every pool of a resource.
func (t *Tracker) List(ctx context.Context, resource string) (recs []*Record, err error) {
	defer func() { t.observe("list", err) }()

	if err := validateKey(resource); err != nil {
		return nil, err
	}
	return t.store.List(ctx, Filter{Resource: resource})
}
