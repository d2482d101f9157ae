package bootstrap_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/event-publication-outbox/internal/bootstrap"
	"github.com/jnst/event-publication-outbox/internal/config"
	"github.com/jnst/event-publication-outbox/internal/repository"
	"github.com/jnst/event-publication-outbox/internal/serializer"
)

type accountOpened struct {
	AccountID string `json:"accountId"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backend string) *config.Config {
	return &config.Config{
		StoreBackend:     backend,
		CompletionMode:   "update",
		CleanupMode:      "typed",
		CleanupInterval:  time.Minute,
		CleanupRetention: time.Hour,
		Retry:            config.RetryConfig{Enabled: true, MaxAttempts: 2, InitialIntervalMS: 1, MaxIntervalMS: 1, Multiplier: 1},
	}
}

func TestNew_PebbleRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(config.BackendPebble)
	cfg.PebbleDir = filepath.Join(t.TempDir(), "outbox")

	registry := serializer.NewRegistry()
	serializer.Register[accountOpened](registry)

	app, err := bootstrap.New(ctx, cfg, testLogger(),
		bootstrap.WithRegistry(registry), bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	created, err := app.Repository.Create(ctx, accountOpened{AccountID: "a-1"}, "mailer", time.Now())
	require.NoError(t, err)
	require.NoError(t, app.Repository.MarkCompleted(ctx, created.Identifier(), time.Now()))
	require.NoError(t, app.Close())

	reopened, err := bootstrap.New(ctx, cfg, testLogger(),
		bootstrap.WithRegistry(registry), bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	completed, err := reopened.Repository.FindCompletedPublications(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, created.Identifier(), completed[0].Identifier())
}

func TestNew_MemoryWithSchemaAndCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	registry := serializer.NewRegistry()
	serializer.Register[accountOpened](registry)

	app, err := bootstrap.New(ctx, testConfig(config.BackendMemory), testLogger(),
		bootstrap.WithRegistry(registry), bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	require.NoError(t, app.InitializeSchema(ctx))

	cleanup, err := app.CleanupService()
	require.NoError(t, err)

	result, err := cleanup.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Counts.Incomplete)
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	cfg := testConfig(config.BackendMemory)
	cfg.CompletionMode = "archive"

	_, err := bootstrap.New(context.Background(), cfg, testLogger(), bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorIs(t, err, repository.ErrUnsupportedCompletionMode)

	_, _, err = bootstrap.OpenStore(context.Background(), testConfig("cassandra"))
	require.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestCleanupService_TypedModeNeedsEventTypes(t *testing.T) {
	t.Parallel()

	app, err := bootstrap.New(context.Background(), testConfig(config.BackendMemory), testLogger(),
		bootstrap.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close()) })

	_, err = app.CleanupService()
	require.ErrorIs(t, err, bootstrap.ErrNoEventTypes)

	app.Config.CleanupMode = "raw"

	_, err = app.CleanupService()
	require.NoError(t, err)
}
