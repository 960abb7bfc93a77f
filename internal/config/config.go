// Package config loads quotad settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"quotad/internal/constants"
	"quotad/internal/utils"
)

// Environment keys.
const (
	EnvPort             = "PORT"
	EnvLogLevel         = "QUOTAD_LOG_LEVEL"
	EnvLogFormat        = "QUOTAD_LOG_FORMAT"
	EnvLimitBackend     = "QUOTAD_LIMIT_BACKEND"
	EnvSessionBackend   = "QUOTAD_SESSION_BACKEND"
	EnvReactionBackend  = "QUOTAD_REACTION_BACKEND"
	EnvNotifyBackend    = "QUOTAD_NOTIFICATION_BACKEND"
	EnvSQLDriver        = "QUOTAD_SQL_DRIVER"
	EnvSQLDSN           = "QUOTAD_SQL_DSN"
	EnvResetWindow      = "QUOTAD_LIMIT_RESET_WINDOW"
	EnvResetWindows     = "QUOTAD_LIMIT_RESET_WINDOWS"
	EnvSweepInterval    = "QUOTAD_SWEEP_INTERVAL"
	EnvLoginQuota       = "QUOTAD_LOGIN_QUOTA_MS"
	EnvReactionQuota    = "QUOTAD_REACTION_QUOTA"
	EnvSessionSecret    = "QUOTAD_SESSION_SECRET"
	EnvAdminToken       = "QUOTAD_ADMIN_TOKEN"
	EnvSessionTTL       = "QUOTAD_SESSION_TTL"
	EnvSecureCookie     = "QUOTAD_SECURE_COOKIE"
	EnvAllowedOrigins   = "QUOTAD_ALLOWED_ORIGINS"
	EnvRedisHost        = "REDIS_HOST"
	EnvRedisPort        = "REDIS_PORT"
	EnvRedisUser        = "REDIS_USERNAME"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvDotEnvFile       = "QUOTAD_ENV_FILE"
	defaultDotEnvFile   = ".env"
	defaultSQLDriver    = "sqlite3"
	defaultSQLDSN       = "file:quotad.db?cache=shared&_busy_timeout=5000"
	BackendMemory       = "memory"
	BackendRedis        = "redis"
	BackendSQL          = "sql"
	defaultLimitBackend = BackendMemory
)

// RedisConfig holds connection settings shared by the Redis-backed stores.
type RedisConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// Enabled reports whether a Redis host was configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// SQLConfig selects the database/sql driver and DSN.
type SQLConfig struct {
	Driver string
	DSN    string
}

// Dialect maps the driver name to the placeholder dialect used by the stores.
func (s SQLConfig) Dialect() string {
	switch s.Driver {
	case "postgres", "pgx":
		return "postgres"
	default:
		return "sqlite"
	}
}

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	LimitBackend        string
	SessionBackend      string
	ReactionBackend     string
	NotificationBackend string

	SQL   SQLConfig
	Redis RedisConfig

	// ResetWindow is the default quota reset window; ResetWindows overrides
	// it per limit type.
	ResetWindow  time.Duration
	ResetWindows map[string]time.Duration

	SweepInterval time.Duration
	LoginQuota    int64
	ReactionQuota int64

	SessionSecret  string
	AdminToken     string
	SessionTTL     time.Duration
	SecureCookie   bool
	AllowedOrigins []string
}

// Load reads an optional .env file and then the process environment.
// Variables already present in the environment are never overwritten.
func Load() (*Config, error) {
	envFile := utils.GetEnv(EnvDotEnvFile, defaultDotEnvFile)
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		slog.Debug("Loaded environment file", "path", envFile)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                utils.GetEnv(EnvPort, constants.DefaultPort),
		LogLevel:            utils.GetEnv(EnvLogLevel, "info"),
		LogFormat:           utils.GetEnv(EnvLogFormat, "simple"),
		LimitBackend:        utils.GetEnv(EnvLimitBackend, defaultLimitBackend),
		SessionBackend:      utils.GetEnv(EnvSessionBackend, ""),
		ReactionBackend:     utils.GetEnv(EnvReactionBackend, BackendMemory),
		NotificationBackend: utils.GetEnv(EnvNotifyBackend, ""),
		SQL: SQLConfig{
			Driver: utils.GetEnv(EnvSQLDriver, defaultSQLDriver),
			DSN:    utils.GetEnv(EnvSQLDSN, defaultSQLDSN),
		},
		Redis: RedisConfig{
			Host:     utils.GetEnv(EnvRedisHost, ""),
			Port:     utils.GetEnv(EnvRedisPort, "6379"),
			Username: utils.GetEnv(EnvRedisUser, ""),
			Password: utils.GetEnv(EnvRedisPassword, ""),
		},
		SessionSecret: os.Getenv(EnvSessionSecret),
		AdminToken:    os.Getenv(EnvAdminToken),
		SecureCookie:  utils.GetEnvBool(EnvSecureCookie, false),
	}

	var err error
	if cfg.ResetWindow, err = utils.GetEnvDuration(EnvResetWindow, constants.DefaultResetWindow); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvResetWindow, err)
	}
	if cfg.ResetWindows, err = ParseWindows(os.Getenv(EnvResetWindows)); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvResetWindows, err)
	}
	if cfg.SweepInterval, err = utils.GetEnvDuration(EnvSweepInterval, constants.DefaultSweepInterval); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvSweepInterval, err)
	}
	if cfg.SessionTTL, err = utils.GetEnvDuration(EnvSessionTTL, constants.SessionDuration); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvSessionTTL, err)
	}
	if cfg.LoginQuota, err = utils.GetEnvInt(EnvLoginQuota, constants.DefaultLoginQuota); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvLoginQuota, err)
	}
	if cfg.ReactionQuota, err = utils.GetEnvInt(EnvReactionQuota, constants.DefaultReactionQuota); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvReactionQuota, err)
	}
	if origins := os.Getenv(EnvAllowedOrigins); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.NotificationBackend == "" {
		cfg.NotificationBackend = cfg.ReactionBackend
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = BackendMemory
		if cfg.Redis.Enabled() {
			cfg.SessionBackend = BackendRedis
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseWindows parses "type=duration,type=duration" into a map.
func ParseWindows(s string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected type=duration, got %q", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("window for %q: %w", name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("window for %q must be positive", name)
		}
		out[strings.TrimSpace(name)] = d
	}
	return out, nil
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []error
	if c.ResetWindow <= 0 {
		errs = append(errs, errors.New("reset window must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.LoginQuota < 0 || c.ReactionQuota < 0 {
		errs = append(errs, errors.New("default quotas must not be negative"))
	}
	for name, backend := range map[string]string{
		"limit":        c.LimitBackend,
		"session":      c.SessionBackend,
		"reaction":     c.ReactionBackend,
		"notification": c.NotificationBackend,
	} {
		switch backend {
		case BackendMemory, BackendRedis, BackendSQL:
		default:
			errs = append(errs, fmt.Errorf("unsupported %s backend: %q", name, backend))
		}
	}
	if c.SessionBackend == BackendSQL {
		errs = append(errs, errors.New("session backend must be memory or redis"))
	}
	if c.ReactionBackend == BackendRedis {
		errs = append(errs, errors.New("reaction backend must be memory or sql"))
	}
	if c.NotificationBackend == BackendRedis {
		errs = append(errs, errors.New("notification backend must be memory or sql"))
	}
	if (c.LimitBackend == BackendRedis || c.SessionBackend == BackendRedis) && !c.Redis.Enabled() {
		errs = append(errs, fmt.Errorf("%s is required for the redis backend", EnvRedisHost))
	}
	return errors.Join(errs...)
}

// NeedsSQL reports whether any store uses the SQL backend.
func (c *Config) NeedsSQL() bool {
	return c.LimitBackend == BackendSQL || c.ReactionBackend == BackendSQL || c.NotificationBackend == BackendSQL
}

// NeedsRedis reports whether any store uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.LimitBackend == BackendRedis || c.SessionBackend == BackendRedis
}
