// Package limit tracks per-resource quotas.
//
// A quota is addressed by a (resource, type) pair. The resource is the entity
// being throttled, usually a user id; the type partitions independent pools
// for the same resource, so one user can hold a "loginToken" budget measured
// in milliseconds of session time next to a "reaction" budget measured in
// actions.
//
// Each record keeps its configured limit, the remaining quota and a reset
// time. Resets are never applied lazily: once the reset time has passed the
// record stays as it is until Reset or SetLimit is called.
//
// # Basic Usage
//
//	store := limit.NewMemoryStore()
//	tracker, err := limit.NewTracker(store, limit.WithWindow(24*time.Hour))
//
//	_, err = tracker.SetLimit(ctx, userID, 100, "reaction", nil)
//	_, err = tracker.Decrement(ctx, userID, 1, "reaction")
//	if limit.IsQuotaExceeded(err) {
//	    // back off until the pool is reset
//	}
//
// # Concurrency
//
// Records carry a version. Every read-modify-write goes through
// Store.Update, which only succeeds when the stored version matches the one
// that was read, and the tracker retries on conflict. Concurrent decrements on
// one key therefore never overdraw the pool, whichever store is used.
package limit
