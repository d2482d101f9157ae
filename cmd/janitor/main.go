// Package main provides the janitor that periodically removes completed event publications.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jnst/event-publication-outbox/internal/bootstrap"
	"github.com/jnst/event-publication-outbox/internal/config"
	"github.com/jnst/event-publication-outbox/internal/logger"
	"github.com/jnst/event-publication-outbox/internal/service"
)

const (
	signalBufferSize  = 1
	exitCode          = 1
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func setupJanitorSignalHandling(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("shutdown signal received, stopping janitor")
		cancel()
	}()

	return ctx, cancel
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info("metrics server listening", slog.String("addr", addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return srv
}

// runCleanupLoop runs one cleanup immediately and then one per interval until ctx is done.
// A failed run is logged and the loop continues.
func runCleanupLoop(ctx context.Context, cleanup service.CleanupService, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		if _, err := cleanup.RunCleanup(ctx); err != nil && ctx.Err() == nil {
			log.Error("cleanup failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	log.Info("janitor stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := setupJanitorSignalHandling(log)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.WithRegisterer(reg))
	if err != nil {
		return err
	}

	defer func() {
		if err := app.Close(); err != nil {
			log.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	if cfg.SchemaInitializationEnabled {
		if err := app.InitializeSchema(ctx); err != nil {
			return err
		}
	}

	cleanup, err := app.CleanupService()
	if err != nil {
		return err
	}

	srv := startMetricsServer(cfg.MetricsAddr, reg, log)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop metrics server", slog.String("error", err.Error()))
		}
	}()

	log.Info("starting janitor",
		slog.Duration("interval", cfg.CleanupInterval),
		slog.Duration("retention", cfg.CleanupRetention),
		slog.String("mode", cfg.CleanupMode),
	)

	runCleanupLoop(ctx, cleanup, cfg.CleanupInterval, log)

	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("janitor failed", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
}
