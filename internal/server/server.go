// Package server exposes quotas, sessions, reactions and notifications over
// HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"quotad/internal/clock"
	"quotad/internal/constants"
	"quotad/internal/limit"
	"quotad/internal/metrics"
	"quotad/internal/notification"
	"quotad/internal/reaction"
	"quotad/internal/reconcile"
	"quotad/internal/security"
	"quotad/internal/session"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	SecureCookie   bool

	// AdminToken, sent as a bearer token, opens every limit route. Empty
	// disables admin access.
	AdminToken string

	// Quotas provisioned for a user on first use.
	LoginQuota    int64
	ReactionQuota int64
}

// Deps are the services the handlers call into. Metrics, Clock and Logger
// are optional.
type Deps struct {
	Limits        *limit.Tracker
	Sessions      *session.Manager
	Reconciler    *reconcile.Reconciler
	Reactions     *reaction.Service
	Notifications *notification.Service
	Cookies       *session.CookieSigner
	Metrics       *metrics.Metrics
	Clock         clock.Clock
	Logger        *slog.Logger
}

type Server struct {
	cfg           Config
	limits        *limit.Tracker
	sessions      *session.Manager
	reconciler    *reconcile.Reconciler
	reactions     *reaction.Service
	notifications *notification.Service
	cookies       *session.CookieSigner
	metrics       *metrics.Metrics
	clock         clock.Clock
	logger        *slog.Logger

	connLimiter *security.ConnectionLimiter
	audit       *security.AuditLogger
	upgrader    websocket.Upgrader
	handler     http.Handler

	// stopping is cancelled when Run begins shutting down, so long-lived
	// WebSocket streams, which Shutdown does not track, close too.
	stopping context.Context
	stop     context.CancelFunc
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Limits == nil || deps.Sessions == nil || deps.Reconciler == nil ||
		deps.Reactions == nil || deps.Notifications == nil || deps.Cookies == nil {
		return nil, errors.New("server: missing dependency")
	}
	if cfg.Port == "" {
		cfg.Port = constants.DefaultPort
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	logger := deps.Logger.With("component", "server")
	s := &Server{
		cfg:           cfg,
		limits:        deps.Limits,
		sessions:      deps.Sessions,
		reconciler:    deps.Reconciler,
		reactions:     deps.Reactions,
		notifications: deps.Notifications,
		cookies:       deps.Cookies,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		logger:        logger,
		connLimiter:   security.NewConnectionLimiter(constants.MaxConnectionsPerIP),
		audit:         security.NewAuditLogger(deps.Logger, deps.Clock),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  constants.WSBufferSize,
		WriteBufferSize: constants.WSBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return security.ValidateOrigin(r, s.cfg.AllowedOrigins)
		},
	}
	s.stopping, s.stop = context.WithCancel(context.Background())
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(security.SecurityHeaders)
	r.Use(security.MaxBodySize(constants.MaxBodySize))

	r.Get(constants.EndpointHealth, s.handleHealth)
	r.Method(http.MethodGet, constants.EndpointMetrics, s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.Get("/session", s.handleGetSession)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Route("/limits/{resource}", func(r chi.Router) {
				r.Use(s.limitAccess(accessOwner))
				r.Get("/", s.handleListLimits)
				r.Route("/{type}", func(r chi.Router) {
					r.With(s.limitAccess(accessAdmin)).Put("/", s.handleSetLimit)
					r.Get("/", s.handleGetStatus)
					r.Patch("/decrement", s.handleDecrement)
					r.With(s.limitAccess(accessAdmin)).Post("/reset", s.handleReset)
					r.Get("/remaining", s.handleGetRemaining)
					r.Get("/reset-in", s.handleTimeUntilReset)
				})
			})

			r.Get("/reactions", s.handleListReactions)
			r.Get("/reactions/{target}", s.handleCountReactions)
			r.Post("/reactions/{target}", s.handleToggleReaction)

			r.Get("/notifications", s.handleListNotifications)
			r.Post("/notifications/{id}/read", s.handleMarkRead)
			r.Post("/notifications/{id}/unread", s.handleMarkUnread)
			r.Delete("/notifications/{id}", s.handleClearNotification)
		})

		r.Get(constants.EndpointWebSocket, s.handleWebSocket)
	})

	return r
}

// Run serves HTTP (with h2c) until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           h2c.NewHandler(s.handler, &http2.Server{}),
		IdleTimeout:       constants.IdleTimeout,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
