// Package bootstrap wires configuration, a store backend and the publication repository.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jnst/event-publication-outbox/internal/config"
	"github.com/jnst/event-publication-outbox/internal/metrics"
	"github.com/jnst/event-publication-outbox/internal/repository"
	"github.com/jnst/event-publication-outbox/internal/retry"
	"github.com/jnst/event-publication-outbox/internal/schema"
	"github.com/jnst/event-publication-outbox/internal/serializer"
	"github.com/jnst/event-publication-outbox/internal/service"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// ErrNoEventTypes is returned when typed cleanup is configured but no event type is registered,
// since typed cleanup can only delete publications whose event deserializes.
var ErrNoEventTypes = errors.New("typed cleanup requires registered event types")

// App holds the wired components of a process.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Store      store.Store
	Repository repository.EventPublicationRepository
	Metrics    *metrics.Metrics

	registry   *serializer.Registry
	closeStore func() error
}

type appOptions struct {
	registry   *serializer.Registry
	registerer prometheus.Registerer
}

// Option configures New.
type Option func(*appOptions)

// WithRegistry supplies the event types the repository can deserialize.
func WithRegistry(registry *serializer.Registry) Option {
	return func(o *appOptions) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithRegisterer registers metrics with reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *appOptions) {
		o.registerer = reg
	}
}

// New opens the configured store and builds the repository around it.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	o := appOptions{
		registry:   serializer.NewRegistry(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := repository.ParseCompletionMode(cfg.CompletionMode)
	if err != nil {
		return nil, err
	}

	s, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics(o.registerer)
	retrier := retry.New(cfg.RetryConfig(), retry.WithLogger(log), retry.WithObserver(m))

	repo := repository.NewEventPublicationRepositoryImpl(
		s,
		serializer.NewJSONSerializerImpl(o.registry),
		retrier,
		repository.WithLogger(log),
		repository.WithObserver(m),
		repository.WithCompletionMode(mode),
	)

	log.Info("store opened", slog.String("backend", cfg.Backend()), slog.String("completion_mode", string(mode)))

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      s,
		Repository: repo,
		Metrics:    m,
		registry:   o.registry,
		closeStore: closeStore,
	}, nil
}

// InitializeSchema verifies the store and provisions indexes from the configured index file.
func (a *App) InitializeSchema(ctx context.Context) error {
	indexes, err := schema.LoadIndexes(a.Config.IndexFile)
	if err != nil {
		return err
	}

	return schema.NewInitializer(a.Store, indexes, a.Log).Initialize(ctx)
}

// CleanupService returns the cleanup job configured by CLEANUP_RETENTION and CLEANUP_MODE.
// Typed mode is rejected when no event type is registered.
func (a *App) CleanupService() (service.CleanupService, error) {
	mode, err := service.ParseCleanupMode(a.Config.CleanupMode)
	if err != nil {
		return nil, err
	}

	if mode == service.CleanupModeTyped && a.registry.Len() == 0 {
		return nil, fmt.Errorf("%w: set CLEANUP_MODE=raw", ErrNoEventTypes)
	}

	return service.NewCleanupServiceImpl(a.Repository, a.Config.CleanupRetention, mode,
		service.WithObserver(a.Metrics),
		service.WithLogger(a.Log),
	), nil
}

// Close releases the store client.
func (a *App) Close() error {
	if err := a.closeStore(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	return nil
}
