package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quotad/internal/clock"
)

// MaxAuditEventsPerMinute caps audit output so a storm of bad requests
// cannot flood the log.
const MaxAuditEventsPerMinute = 100

type AuditEvent struct {
	Type     string
	IP       string
	Session  string
	User     string
	Details  string
	Severity slog.Level
}

// AuditLogger writes security relevant events to a dedicated slog logger,
// at most MaxAuditEventsPerMinute per minute.
type AuditLogger struct {
	mu          sync.Mutex
	logger      *slog.Logger
	clock       clock.Clock
	count       int
	dropped     int
	windowStart time.Time
}

func NewAuditLogger(logger *slog.Logger, c clock.Clock) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.Real()
	}
	return &AuditLogger{
		logger:      logger.With("audit", true),
		clock:       c,
		windowStart: c.Now(),
	}
}

// Log records event unless the per-minute budget is spent. It reports
// whether the event was written.
func (al *AuditLogger) Log(event AuditEvent) bool {
	al.mu.Lock()
	now := al.clock.Now()
	if now.Sub(al.windowStart) > time.Minute {
		if al.dropped > 0 {
			al.logger.Warn("Audit events dropped", "count", al.dropped)
		}
		al.windowStart = now
		al.count = 0
		al.dropped = 0
	}
	if al.count >= MaxAuditEventsPerMinute {
		al.dropped++
		al.mu.Unlock()
		return false
	}
	al.count++
	al.mu.Unlock()

	attrs := []any{"event", event.Type, "ip", event.IP}
	if event.Session != "" {
		attrs = append(attrs, "session", event.Session)
	}
	if event.User != "" {
		attrs = append(attrs, "user", event.User)
	}
	if event.Details != "" {
		attrs = append(attrs, "details", event.Details)
	}
	al.logger.Log(context.Background(), event.Severity, "Security event", attrs...)
	return true
}

func (al *AuditLogger) LogInvalidCookie(ip string) {
	al.Log(AuditEvent{
		Type:     "invalid_cookie",
		IP:       ip,
		Details:  "session cookie signature mismatch",
		Severity: slog.LevelWarn,
	})
}

func (al *AuditLogger) LogConnectionLimit(ip string) {
	al.Log(AuditEvent{
		Type:     "connection_limit",
		IP:       ip,
		Details:  "too many concurrent WebSocket connections",
		Severity: slog.LevelWarn,
	})
}

func (al *AuditLogger) LogAccessDenied(ip, session, user, path string) {
	al.Log(AuditEvent{
		Type:     "access_denied",
		IP:       ip,
		Session:  session,
		User:     user,
		Details:  "no access to " + path,
		Severity: slog.LevelWarn,
	})
}

func (al *AuditLogger) LogLoginRejected(ip, session, user, reason string) {
	al.Log(AuditEvent{
		Type:     "login_rejected",
		IP:       ip,
		Session:  session,
		User:     user,
		Details:  reason,
		Severity: slog.LevelInfo,
	})
}
