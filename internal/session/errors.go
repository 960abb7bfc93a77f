package session

import "errors"

var (
	// ErrAlreadyLoggedIn is returned when a session that already has a user
	// is asked to log in again.
	ErrAlreadyLoggedIn = errors.New("session is already logged in")

	// ErrNotLoggedIn is returned by operations that require a user.
	ErrNotLoggedIn = errors.New("session is not logged in")

	// ErrMalformedTimestamp marks a stored timestamp that could not be parsed.
	// It is logged by the stores and never returned to callers.
	ErrMalformedTimestamp = errors.New("malformed session timestamp")

	// ErrNotFound is returned by Store.Get for unknown or expired ids.
	ErrNotFound = errors.New("session not found")
)
