// Package reconcile charges logged in time against login quotas.
//
// A Reconciler periodically walks the active sessions, charges the time each
// one has been logged in since it was last charged against its owner's
// loginToken quota, and ends the sessions whose quota has run out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quotad/internal/clock"
	"quotad/internal/constants"
	"quotad/internal/limit"
	"quotad/internal/session"
)

// MsgQuotaExhausted is sent to users whose session was ended by a sweep.
const MsgQuotaExhausted = "Your session was ended because your login time quota is exhausted."

// Sessions is the part of the session manager the reconciler needs.
type Sessions interface {
	ActiveSessions(ctx context.Context) ([]*session.State, error)
	Get(ctx context.Context, id string) (*session.State, error)
	End(ctx context.Context, id string) (*session.State, error)
	MarkCharged(ctx context.Context, id string, login, until time.Time) error
}

// Limits is the part of the limit tracker the reconciler needs.
type Limits interface {
	Decrement(ctx context.Context, resource string, amount int64, limitType string) (*limit.Record, error)
	GetRemaining(ctx context.Context, resource string, limitType string) (int64, error)
}

// Notifier tells a user that something happened to their session.
type Notifier interface {
	Notify(ctx context.Context, recipient, content string) error
}

// Recorder observes sweep activity.
type Recorder interface {
	ObserveSweep(outcome string, duration time.Duration)
	ObserveCharge(milliseconds int64)
	ObserveForcedLogout()
}

type noopRecorder struct{}

func (noopRecorder) ObserveSweep(string, time.Duration) {}
func (noopRecorder) ObserveCharge(int64)                {}
func (noopRecorder) ObserveForcedLogout()               {}

// Result summarizes one sweep.
type Result struct {
	Skipped  bool
	Sessions int
	Charged  int
	Ended    int
	Failed   int
}

type Option func(*Reconciler)

func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.interval = d }
}

func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithLimitType sets the quota pool charged for logged in time.
func WithLimitType(t string) Option {
	return func(r *Reconciler) { r.limitType = t }
}

type Reconciler struct {
	sessions  Sessions
	limits    Limits
	notifier  Notifier
	recorder  Recorder
	clock     clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	limitType string

	running atomic.Bool

	// chargeMu serializes charging so a sweep and a Settle never charge the
	// same interval twice. How far a login has been charged is kept on the
	// session itself.
	chargeMu sync.Mutex
}

func New(sessions Sessions, limits Limits, opts ...Option) *Reconciler {
	r := &Reconciler{
		sessions:  sessions,
		limits:    limits,
		recorder:  noopRecorder{},
		clock:     clock.Real(),
		logger:    slog.Default().With("component", "reconcile"),
		interval:  constants.DefaultSweepInterval,
		limitType: constants.LimitTypeLoginToken,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps every interval until ctx is cancelled, then waits for a sweep
// in flight to finish. A tick that arrives while a sweep is still running is
// skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", r.interval)
	}

	r.logger.Info("Reconciliation loop started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation loop stopped")
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Sweep(ctx)
			}()
		}
	}
}

// Sweep runs one reconciliation pass. Only one sweep runs at a time; a call
// made while another is in flight returns immediately with Skipped set.
func (r *Reconciler) Sweep(ctx context.Context) Result {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("Sweep skipped, previous sweep still running")
		r.recorder.ObserveSweep("skipped", 0)
		return Result{Skipped: true}
	}
	defer r.running.Store(false)

	start := time.Now()
	active, err := r.sessions.ActiveSessions(ctx)
	if err != nil {
		r.logger.Error("Failed to list active sessions", "error", err)
		r.recorder.ObserveSweep("error", time.Since(start))
		return Result{Failed: 1}
	}

	res := Result{Sessions: len(active)}
	for _, state := range active {
		if ctx.Err() != nil {
			break
		}

		charged, ended, err := r.reconcile(ctx, state)
		if charged {
			res.Charged++
		}
		if ended {
			res.Ended++
		}
		if err != nil {
			res.Failed++
			r.logger.Warn("Skipping session", "session", state.ID, "user", state.User, "error", err)
		}
	}

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	r.recorder.ObserveSweep(outcome, time.Since(start))
	r.logger.Debug("Sweep finished", "sessions", res.Sessions, "charged", res.Charged,
		"ended", res.Ended, "failed", res.Failed, "took", time.Since(start))
	return res
}

// reconcile charges one session and ends it when the quota is gone.
func (r *Reconciler) reconcile(ctx context.Context, snapshot *session.State) (charged, ended bool, err error) {
	amount, state, err := r.charge(ctx, snapshot)
	if err != nil {
		return false, false, err
	}
	if state == nil {
		// Logged out, or logged in again, since the snapshot was taken.
		return false, false, nil
	}
	charged = amount > 0

	remaining, err := r.limits.GetRemaining(ctx, state.User, r.limitType)
	if err != nil {
		return charged, false, fmt.Errorf("failed to read remaining quota: %w", err)
	}
	if remaining > 0 {
		return charged, false, nil
	}

	if _, err := r.sessions.End(ctx, state.ID); err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			// Logged out by the client in the meantime.
			return charged, false, nil
		}
		return charged, false, fmt.Errorf("failed to end session: %w", err)
	}
	r.recorder.ObserveForcedLogout()
	r.logger.Info("Session ended, login quota exhausted", "session", state.ID, "user", state.User)

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, state.User, MsgQuotaExhausted); err != nil {
			r.logger.Warn("Failed to notify user", "user", state.User, "error", err)
		}
	}
	return charged, true, nil
}

// charge takes the not yet charged part of the session's logged in time from
// its owner's quota and returns the milliseconds taken together with the
// session as it was charged. The session is re-read first; a nil state means
// it no longer belongs to the login that started at snapshot.LoginTime. When
// the quota cannot cover the time it is drained to zero instead.
func (r *Reconciler) charge(ctx context.Context, snapshot *session.State) (int64, *session.State, error) {
	r.chargeMu.Lock()
	defer r.chargeMu.Unlock()

	state, err := r.sessions.Get(ctx, snapshot.ID)
	if errors.Is(err, session.ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reload session: %w", err)
	}
	if !state.LoggedIn() || state.LoginTime.IsZero() || !state.LoginTime.Equal(snapshot.LoginTime) {
		return 0, nil, nil
	}

	elapsed := session.TimeLoggedIn(state, r.clock.Now()).Milliseconds()
	done := chargedSoFar(state)
	due := elapsed - done
	if due <= 0 {
		return 0, state, nil
	}

	taken := due
	_, err = r.limits.Decrement(ctx, state.User, due, r.limitType)
	if qe := limit.AsQuotaExceeded(err); qe != nil {
		taken, err = r.drain(ctx, state.User, qe.Remaining)
	}
	if err != nil {
		return 0, state, fmt.Errorf("failed to charge %dms: %w", due, err)
	}

	until := state.LoginTime.Add(time.Duration(elapsed) * time.Millisecond)
	if err := r.sessions.MarkCharged(ctx, state.ID, state.LoginTime, until); err != nil {
		return taken, state, fmt.Errorf("failed to record charge: %w", err)
	}

	r.recorder.ObserveCharge(taken)
	r.logger.Debug("Session charged", "session", state.ID, "user", state.User, "ms", taken)
	return taken, state, nil
}

// chargedSoFar returns the milliseconds of the current login already taken
// from the quota.
func chargedSoFar(state *session.State) int64 {
	if !state.ChargedUntil.After(state.LoginTime) {
		return 0
	}
	return state.ChargedUntil.Sub(state.LoginTime).Milliseconds()
}

// drain takes whatever is left of the user's quota. remaining is the last
// value seen; it is re-read if another writer got there first.
func (r *Reconciler) drain(ctx context.Context, user string, remaining int64) (int64, error) {
	for attempt := 0; attempt < constants.MaxUpdateAttempts; attempt++ {
		_, err := r.limits.Decrement(ctx, user, remaining, r.limitType)
		if err == nil {
			return remaining, nil
		}
		qe := limit.AsQuotaExceeded(err)
		if qe == nil {
			return 0, err
		}
		remaining = qe.Remaining
	}
	return 0, fmt.Errorf("could not drain quota of %s: %w", user, limit.ErrConflict)
}

// Settle charges the uncharged time of a session that is about to be logged
// out by its client. Unknown and logged out sessions are ignored, as are
// owners without a quota record.
func (r *Reconciler) Settle(ctx context.Context, sessionID string) error {
	state, err := r.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !state.LoggedIn() {
		return nil
	}

	if _, _, err := r.charge(ctx, state); err != nil {
		if errors.Is(err, limit.ErrNotFound) {
			r.logger.Debug("No login quota to settle against", "session", sessionID, "user", state.User)
			return nil
		}
		return err
	}
	return nil
}
