// Package retry retries store writes with exponential backoff on transient failures.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jnst/event-publication-outbox/internal/model"
)

const (
	defaultMaxAttempts     = 5
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2000 * time.Millisecond
	defaultMultiplier      = 2.0
)

// Config controls the retry policy.
type Config struct {
	Enabled         bool
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig returns the baseline retry configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxAttempts:     defaultMaxAttempts,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		Multiplier:      defaultMultiplier,
	}
}

func (cfg *Config) normalize() {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	if cfg.InitialInterval < 0 {
		cfg.InitialInterval = 0
	}

	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}

	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
}

// Observer is notified about retries, e.g. to export metrics.
type Observer interface {
	ObserveRetry(operation string, attempt int, err error, next time.Duration)
	ObserveExhausted(operation string, attempts int, err error)
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// IsRetryable retries every store failure class; anything else fails fast.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrContention) ||
		errors.Is(err, model.ErrTransactionApply) ||
		errors.Is(err, model.ErrStoreUnavailable)
}

// Option customizes a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for retry events.
func WithLogger(log *slog.Logger) Option {
	return func(r *Retrier) {
		if log != nil {
			r.log = log
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(observer Observer) Option {
	return func(r *Retrier) {
		r.observer = observer
	}
}

// WithClassifier replaces IsRetryable.
func WithClassifier(classifier Classifier) Option {
	return func(r *Retrier) {
		if classifier != nil {
			r.classify = classifier
		}
	}
}

// Retrier runs operations under the configured retry policy. It is safe for concurrent use.
type Retrier struct {
	cfg      Config
	log      *slog.Logger
	observer Observer
	classify Classifier
}

// New creates a Retrier.
func New(cfg Config, opts ...Option) *Retrier {
	cfg.normalize()

	r := &Retrier{
		cfg:      cfg,
		log:      slog.Default(),
		classify: IsRetryable,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Config returns the normalized configuration.
func (r *Retrier) Config() Config {
	return r.cfg
}

// Do runs fn until it succeeds, fails with a non-retryable error, or MaxAttempts is reached.
// The last error is returned as is.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !r.cfg.Enabled || r.cfg.MaxAttempts == 1 {
		return fn(ctx)
	}

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++

			err := fn(ctx)
			if err != nil && !r.classify(err) {
				return backoff.Permanent(err)
			}

			return err
		},
		backoff.WithContext(r.newBackOff(), ctx),
		func(err error, next time.Duration) {
			r.log.Warn("publication store operation failed, retrying",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)

			if r.observer != nil {
				r.observer.ObserveRetry(operation, attempt, err, next)
			}
		},
	)

	switch {
	case err != nil && attempt >= r.cfg.MaxAttempts && r.classify(err):
		r.log.Error("publication store operation failed after retries",
			slog.String("operation", operation),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)

		if r.observer != nil {
			r.observer.ObserveExhausted(operation, attempt, err)
		}
	case err == nil && attempt > 1:
		r.log.Info("publication store operation succeeded after retries",
			slog.String("operation", operation),
			slog.Int("attempts", attempt),
		)
	}

	return err
}

func (r *Retrier) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.Multiplier = r.cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1))
}

// Wrap decorates fn so every call runs under r's policy.
func Wrap(r *Retrier, operation string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return r.Do(ctx, operation, fn)
	}
}

// Delay returns the wait after the n-th failed attempt (1-based):
// min(MaxInterval, InitialInterval * Multiplier^(n-1)).
func (cfg Config) Delay(n int) time.Duration {
	d := float64(cfg.InitialInterval)
	for i := 1; i < n; i++ {
		d *= cfg.Multiplier
		if d >= float64(cfg.MaxInterval) {
			return cfg.MaxInterval
		}
	}

	return min(time.Duration(d), cfg.MaxInterval)
}
