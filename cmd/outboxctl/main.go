// Package main provides outboxctl, an operational CLI for the event publication store.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jnst/event-publication-outbox/internal/bootstrap"
	"github.com/jnst/event-publication-outbox/internal/config"
	"github.com/jnst/event-publication-outbox/internal/logger"
)

const exitCode = 1

// loadApp opens the store configured by the environment.
func loadApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logs go to stderr so command output on stdout stays machine-readable.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	return bootstrap.New(ctx, cfg, log, bootstrap.WithRegisterer(prometheus.NewRegistry()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(loadApp).ExecuteContext(ctx); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		stop()
		os.Exit(exitCode)
	}
}
