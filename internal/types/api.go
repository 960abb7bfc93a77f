// Package types holds the JSON bodies of the HTTP API.
package types

import "time"

type LoginRequest struct {
	Username string `json:"username"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	LoggedIn  bool   `json:"loggedIn"`

	// TimeLoggedIn is the length of the current or last login in milliseconds.
	TimeLoggedIn int64 `json:"timeLoggedIn"`
}

type LoginResponse struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	LoginTime      time.Time `json:"loginTime"`
	RemainingQuota int64     `json:"remainingQuota"`
}

type LogoutResponse struct {
	UserID       string `json:"userId"`
	TimeLoggedIn int64  `json:"timeLoggedIn"`
}

type SetLimitRequest struct {
	Limit           int64  `json:"limit"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
}

type DecrementRequest struct {
	Amount int64 `json:"amount"`
}

type RemainingResponse struct {
	Resource  string `json:"resource"`
	Type      string `json:"type"`
	Remaining int64  `json:"remaining"`
}

// QuotaExceededResponse is the error detail of a refused decrement.
type QuotaExceededResponse struct {
	Remaining  int64     `json:"remaining"`
	Requested  int64     `json:"requested"`
	ResetTime  time.Time `json:"resetTime"`
	RetryAfter int64     `json:"retryAfterSeconds"`
}

type ToggleReactionResponse struct {
	Target  string `json:"target"`
	Reacted bool   `json:"reacted"`
	Count   int64  `json:"count"`
}

type ReactionCountResponse struct {
	Target string `json:"target"`
	Count  int64  `json:"count"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
