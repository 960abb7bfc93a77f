package constants

import (
	"net/http"
	"time"
)

const AppName = "quotad"

// Network defaults
const (
	DefaultPort       = "8080"
	ShutdownTimeout   = 5 * time.Second
	IdleTimeout       = 120 * time.Second
	ReadHeaderTimeout = 10 * time.Second
	CleanupInterval   = 30 * time.Second
)

// Session settings
const (
	SessionDuration       = 24 * time.Hour // idle expiry of a session record
	SessionCookieName     = "quotad_session"
	SessionCookieMaxAge   = 86400
	SessionCookieSameSite = http.SameSiteLaxMode
	RedisSessionPrefix    = "quotad:session:"
)

// Quota settings
const (
	DefaultResetWindow    = 24 * time.Hour
	DefaultSweepInterval  = 3 * time.Minute
	LimitTypeLoginToken   = "loginToken"
	LimitTypeReaction     = "reaction"
	DefaultLoginQuota     = int64(5 * time.Hour / time.Millisecond) // ms of session time per window
	DefaultReactionQuota  = 100
	MaxUpdateAttempts     = 8
	RedisLimitPrefix      = "quotad:limit:"
	RedisLimitIndexPrefix = "quotad:limits-of:"
)

// Request limits
const (
	MaxBodySize         = 64 * 1024
	MaxConnectionsPerIP = 10
	MaxNotificationLen  = 1024
	WSBufferSize        = 4096
)

// API endpoints
const (
	EndpointHealth    = "/healthz"
	EndpointMetrics   = "/metrics"
	EndpointWebSocket = "/ws/notifications"
)

// Messages
const (
	MsgInvalidJSON       = "Invalid JSON"
	MsgNotFound          = "Not found"
	MsgQuotaExceeded     = "Quota exceeded"
	MsgNotLoggedIn       = "Must be logged in!"
	MsgAlreadyLoggedIn   = "Must be logged out!"
	MsgInternalError     = "Internal Server Error"
	MsgConnectionLimited = "Connection limit exceeded"
	MsgForbidden         = "Access denied"
)
