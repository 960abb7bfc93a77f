package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotad/internal/constants"
)

// clearEnv blanks every key FromEnv reads so the host environment cannot leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvPort, EnvLogLevel, EnvLogFormat, EnvLimitBackend, EnvSessionBackend,
		EnvReactionBackend, EnvNotifyBackend, EnvSQLDriver, EnvSQLDSN,
		EnvResetWindow, EnvResetWindows, EnvSweepInterval, EnvLoginQuota,
		EnvReactionQuota, EnvSessionSecret, EnvSessionTTL, EnvSecureCookie,
		EnvAllowedOrigins, EnvRedisHost, EnvRedisPort, EnvRedisUser,
		EnvRedisPassword, EnvDotEnvFile, EnvAdminToken,
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultPort, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.LimitBackend)
	assert.Equal(t, BackendMemory, cfg.SessionBackend)
	assert.Equal(t, BackendMemory, cfg.NotificationBackend)
	assert.Equal(t, constants.DefaultResetWindow, cfg.ResetWindow)
	assert.Equal(t, constants.DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, constants.DefaultLoginQuota, cfg.LoginQuota)
	assert.Empty(t, cfg.ResetWindows)
	assert.False(t, cfg.NeedsSQL())
	assert.False(t, cfg.NeedsRedis())
	assert.Equal(t, "sqlite", cfg.SQL.Dialect())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLimitBackend, BackendRedis)
	t.Setenv(EnvReactionBackend, BackendSQL)
	t.Setenv(EnvRedisHost, "cache")
	t.Setenv(EnvSQLDriver, "postgres")
	t.Setenv(EnvResetWindows, "reaction=1h, loginToken=12h")
	t.Setenv(EnvSweepInterval, "30s")
	t.Setenv(EnvAllowedOrigins, "https://a.example, ,https://b.example")
	t.Setenv(EnvSecureCookie, "yes")
	t.Setenv(EnvAdminToken, "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.SessionBackend, "redis host selects redis sessions")
	assert.Equal(t, BackendSQL, cfg.NotificationBackend, "notifications follow reactions")
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.Equal(t, "postgres", cfg.SQL.Dialect())
	assert.Equal(t, map[string]time.Duration{"reaction": time.Hour, "loginToken": 12 * time.Hour}, cfg.ResetWindows)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.SecureCookie)
	assert.Equal(t, "s3cret", cfg.AdminToken)
	assert.True(t, cfg.NeedsSQL())
	assert.True(t, cfg.NeedsRedis())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{EnvResetWindow: "soon"}},
		{"zero interval", map[string]string{EnvSweepInterval: "0s"}},
		{"bad quota", map[string]string{EnvLoginQuota: "lots"}},
		{"negative quota", map[string]string{EnvReactionQuota: "-1"}},
		{"unknown backend", map[string]string{EnvLimitBackend: "mongo"}},
		{"sql sessions", map[string]string{EnvSessionBackend: BackendSQL}},
		{"redis reactions", map[string]string{EnvReactionBackend: BackendRedis, EnvRedisHost: "cache"}},
		{"redis without host", map[string]string{EnvLimitBackend: BackendRedis}},
		{"bad windows", map[string]string{EnvResetWindows: "reaction"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestParseWindows(t *testing.T) {
	got, err := ParseWindows("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseWindows("a=2h,,b=30m")
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{"a": 2 * time.Hour, "b": 30 * time.Minute}, got)

	for _, bad := range []string{"=1h", "a=forever", "a=-1h", "a=0s"} {
		_, err := ParseWindows(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9999\nQUOTAD_REACTION_QUOTA=7\n"), 0o600))
	t.Setenv(EnvDotEnvFile, path)
	t.Setenv(EnvPort, "7000")
	// godotenv only fills variables that are absent, not merely empty.
	require.NoError(t, os.Unsetenv(EnvReactionQuota))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, int64(7), cfg.ReactionQuota)
}
