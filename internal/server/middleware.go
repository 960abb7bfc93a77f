package server

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"quotad/internal/constants"
	"quotad/internal/security"
	"quotad/internal/session"
	"quotad/internal/utils"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	freshSessionKey
)

// sessionID returns the session id attached by sessionMiddleware.
func sessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// freshSession reports whether the request's session id was minted for this
// request and has no cookie yet.
func freshSession(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshSessionKey).(bool)
	return fresh
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && security.ValidateOrigin(r, s.cfg.AllowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				s.logger.Error("Panic recovered", "panic", err, "path", r.URL.Path, "stack", string(debug.Stack()))
				utils.WriteError(w, http.StatusInternalServerError, codeInternal, constants.MsgInternalError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status. It forwards Hijack so
// WebSocket upgrades keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// metricsMiddleware logs each request and records it under its chi route
// pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		d := time.Since(start)
		s.metrics.ObserveHTTP(route, r.Method, rec.status, d)
		s.logger.Debug("HTTP request", "method", r.Method, "route", route, "status", rec.status,
			"ip", security.GetClientIP(r), "took", d)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// sessionMiddleware resolves the signed session cookie and keeps a known
// session record alive. Requests without a valid cookie get a fresh id; the
// cookie and the record only come into being when that id logs in.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(constants.SessionCookieName); err == nil {
			verified, ok := s.cookies.Verify(c.Value)
			if ok && security.ValidateUUID(verified) {
				id = verified
			} else {
				s.audit.LogInvalidCookie(security.GetClientIP(r))
			}
		}

		ctx := r.Context()
		if id == "" {
			id = uuid.New().String()
			ctx = context.WithValue(ctx, freshSessionKey, true)
		} else if _, err := s.sessions.Touch(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionIDKey, id)))
	})
}

// issueCookie sets the session cookie for a freshly minted session id.
func (s *Server) issueCookie(w http.ResponseWriter, r *http.Request) {
	if !freshSession(r.Context()) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    s.cookies.Sign(sessionID(r.Context())),
		Path:     "/",
		MaxAge:   constants.SessionCookieMaxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: constants.SessionCookieSameSite,
	})
}

type access int

const (
	// accessOwner admits the user the limit belongs to.
	accessOwner access = iota
	// accessAdmin admits only holders of the admin token.
	accessAdmin
)

// limitAccess guards the limit routes of {resource}. The admin token passes
// every check; anyone else must be logged in as the resource itself.
func (s *Server) limitAccess(level access) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.isAdmin(r) {
				next.ServeHTTP(w, r)
				return
			}
			user, err := s.currentUser(r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if level == accessAdmin || user != chi.URLParam(r, "resource") {
				s.audit.LogAccessDenied(security.GetClientIP(r), sessionID(r.Context()), user, r.Method+" "+r.URL.Path)
				utils.WriteError(w, http.StatusForbidden, codeForbidden, constants.MsgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) isAdmin(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}

// currentUser returns the user logged in on the request's session.
func (s *Server) currentUser(r *http.Request) (string, error) {
	return s.sessions.GetUser(r.Context(), sessionID(r.Context()))
}
