package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/event-publication-outbox/internal/repository"
	"github.com/jnst/event-publication-outbox/internal/service"
)

func parseEnv(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseEnv(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "event_publication", cfg.PostgresTable)
	assert.Equal(t, "outbox", cfg.RedisKeyPrefix)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.CleanupRetention)
	assert.False(t, cfg.SchemaInitializationEnabled)

	retryCfg := cfg.RetryConfig()
	assert.True(t, retryCfg.Enabled)
	assert.Equal(t, 5, retryCfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, retryCfg.InitialInterval)
	assert.Equal(t, 2*time.Second, retryCfg.MaxInterval)
	assert.InDelta(t, 2.0, retryCfg.Multiplier, 0)
}

func TestParse_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseEnv(map[string]string{
		"STORE_BACKEND":                    "Redis",
		"REDIS_ADDR":                       "cache:6380",
		"COMPLETION_MODE":                  "delete",
		"CLEANUP_MODE":                     "raw",
		"CLEANUP_RETENTION":                "30m",
		"SCHEMA_INITIALIZATION_ENABLED":    "true",
		"OUTBOX_RETRY_ENABLED":             "false",
		"OUTBOX_RETRY_MAX_ATTEMPTS":        "3",
		"OUTBOX_RETRY_INITIAL_INTERVAL_MS": "10",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Backend())
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.CleanupRetention)
	assert.True(t, cfg.SchemaInitializationEnabled)

	retryCfg := cfg.RetryConfig()
	assert.False(t, retryCfg.Enabled)
	assert.Equal(t, 3, retryCfg.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, retryCfg.InitialInterval)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		environ map[string]string
		wantErr error
	}{
		{
			name:    "unknown backend",
			environ: map[string]string{"STORE_BACKEND": "cassandra"},
			wantErr: ErrUnknownBackend,
		},
		{
			name:    "datastore without project",
			environ: map[string]string{"STORE_BACKEND": "datastore"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "archive completion mode",
			environ: map[string]string{"COMPLETION_MODE": "archive"},
			wantErr: repository.ErrUnsupportedCompletionMode,
		},
		{
			name:    "unknown cleanup mode",
			environ: map[string]string{"CLEANUP_MODE": "soft"},
			wantErr: service.ErrUnsupportedCleanupMode,
		},
		{
			name:    "zero cleanup interval",
			environ: map[string]string{"CLEANUP_INTERVAL": "0s"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "zero retry attempts",
			environ: map[string]string{"OUTBOX_RETRY_MAX_ATTEMPTS": "0"},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseEnv(tt.environ)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_MalformedValue(t *testing.T) {
	t.Parallel()

	_, err := parseEnv(map[string]string{"CLEANUP_INTERVAL": "hourly"})
	assert.Error(t, err)
}
