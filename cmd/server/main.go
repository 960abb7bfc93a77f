package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/vardius/shutdown"
	"golang.org/x/sync/errgroup"

	"quotad/internal/config"
	"quotad/internal/constants"
	"quotad/internal/database"
	"quotad/internal/limit"
	"quotad/internal/logger"
	"quotad/internal/metrics"
	"quotad/internal/notification"
	"quotad/internal/reaction"
	"quotad/internal/reconcile"
	"quotad/internal/server"
	"quotad/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("quotad stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *sql.DB
	if cfg.NeedsSQL() {
		db, err = database.Open(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info("SQL database opened", "driver", cfg.SQL.Driver)
	}

	// rdb stays a nil interface when Redis is not configured.
	var rdb redis.UniversalClient
	if cfg.NeedsRedis() {
		client, err := database.OpenRedis(ctx, cfg.Redis.Addr(), cfg.Redis.Username, cfg.Redis.Password)
		if err != nil && cfg.LimitBackend == config.BackendRedis {
			return err
		}
		if err != nil {
			log.Warn("Redis unavailable, sessions fall back to memory", "addr", cfg.Redis.Addr(), "error", err)
		} else {
			rdb = client
			defer client.Close()
			log.Info("Connected to Redis", "addr", cfg.Redis.Addr())
		}
	}

	m := metrics.New()

	limitStore, err := limit.NewStore(ctx, cfg.LimitBackend, rdb, db, cfg.SQL.Dialect())
	if err != nil {
		return err
	}
	defer limitStore.Close()

	trackerOpts := []limit.Option{
		limit.WithWindow(cfg.ResetWindow),
		limit.WithLogger(log.With("component", "limit")),
		limit.WithRecorder(m),
	}
	for limitType, window := range cfg.ResetWindows {
		trackerOpts = append(trackerOpts, limit.WithTypeWindow(limitType, window))
	}
	tracker, err := limit.NewTracker(limitStore, trackerOpts...)
	if err != nil {
		return err
	}

	sessionStore := session.NewStore(ctx, cfg.SessionBackend, rdb, nil, constants.CleanupInterval)
	defer sessionStore.Close()
	sessionStore.OnExpire(func(id string) {
		log.Debug("Session expired", "session", id)
	})
	sessions := session.NewManager(sessionStore,
		session.WithLogger(log.With("component", "session")),
		session.WithTTL(cfg.SessionTTL),
	)

	notificationStore, err := notification.NewStore(ctx, cfg.NotificationBackend, db, cfg.SQL.Dialect())
	if err != nil {
		return err
	}
	notifications := notification.NewService(notificationStore,
		notification.NewHub(log.With("component", "hub")),
		notification.WithLogger(log.With("component", "notification")),
	)

	reactionStore, err := reaction.NewStore(ctx, cfg.ReactionBackend, db, cfg.SQL.Dialect())
	if err != nil {
		return err
	}
	reactions := reaction.NewService(reactionStore, nil, log.With("component", "reaction"))

	reconciler := reconcile.New(sessions, tracker,
		reconcile.WithInterval(cfg.SweepInterval),
		reconcile.WithLogger(log.With("component", "reconcile")),
		reconcile.WithNotifier(notifications),
		reconcile.WithRecorder(m),
	)

	if cfg.SessionSecret == "" {
		log.Warn("No session secret configured, session cookies will not survive a restart", "env", config.EnvSessionSecret)
	}
	if cfg.AdminToken == "" {
		log.Info("No admin token configured, limits can only be read and spent by their owners", "env", config.EnvAdminToken)
	}
	cookies, err := session.NewCookieSigner(cfg.SessionSecret)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookie:   cfg.SecureCookie,
		AdminToken:     cfg.AdminToken,
		LoginQuota:     cfg.LoginQuota,
		ReactionQuota:  cfg.ReactionQuota,
	}, server.Deps{
		Limits:        tracker,
		Sessions:      sessions,
		Reconciler:    reconciler,
		Reactions:     reactions,
		Notifications: notifications,
		Cookies:       cookies,
		Metrics:       m,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	go shutdown.GracefulStop(func() {
		log.Info("Shutdown signal received")
		cancel()
	})

	log.Info("quotad started", "port", cfg.Port, "limits", cfg.LimitBackend,
		"sessions", cfg.SessionBackend, "sweep", cfg.SweepInterval)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("quotad stopped")
	return nil
}
