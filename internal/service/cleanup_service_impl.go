package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jnst/event-publication-outbox/internal/repository"
)

// CleanupMode selects how completed publications are removed.
type CleanupMode string

const (
	// CleanupModeTyped deletes through the repository's typed read path, leaving records
	// whose event type is no longer registered in place.
	CleanupModeTyped CleanupMode = "typed"
	// CleanupModeRaw deletes by filter alone, regardless of event type.
	CleanupModeRaw CleanupMode = "raw"
)

// ErrUnsupportedCleanupMode is returned for a cleanup mode other than typed or raw.
var ErrUnsupportedCleanupMode = errors.New("unsupported cleanup mode")

// ParseCleanupMode parses a configured mode. An empty value selects CleanupModeTyped.
func ParseCleanupMode(s string) (CleanupMode, error) {
	switch CleanupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CleanupModeTyped:
		return CleanupModeTyped, nil
	case CleanupModeRaw:
		return CleanupModeRaw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCleanupMode, s)
	}
}

type noopCleanupObserver struct{}

func (noopCleanupObserver) ObserveCleanup(time.Duration, int, int) {}

// CleanupServiceImpl implements CleanupService on top of the publication repository.
type CleanupServiceImpl struct {
	repo      repository.EventPublicationRepository
	retention time.Duration
	mode      CleanupMode
	observer  CleanupObserver
	log       *slog.Logger
	now       func() time.Time
}

// CleanupOption configures a CleanupServiceImpl.
type CleanupOption func(*CleanupServiceImpl)

// WithObserver reports each run to observer.
func WithObserver(observer CleanupObserver) CleanupOption {
	return func(s *CleanupServiceImpl) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) CleanupOption {
	return func(s *CleanupServiceImpl) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CleanupOption {
	return func(s *CleanupServiceImpl) {
		s.now = now
	}
}

// NewCleanupServiceImpl creates a CleanupService. A retention of zero or less removes every
// completed publication on each run.
func NewCleanupServiceImpl(
	repo repository.EventPublicationRepository,
	retention time.Duration,
	mode CleanupMode,
	opts ...CleanupOption,
) CleanupService {
	s := &CleanupServiceImpl{
		repo:      repo,
		retention: retention,
		mode:      mode,
		observer:  noopCleanupObserver{},
		log:       slog.Default(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RunCleanup removes completed publications older than the retention period and reports
// the remaining backlog.
func (s *CleanupServiceImpl) RunCleanup(ctx context.Context) (*CleanupResult, error) {
	start := s.now()
	result := &CleanupResult{}

	var cutoff *time.Time
	if s.retention > 0 {
		c := start.Add(-s.retention)
		cutoff = &c
		result.Cutoff = c
	}

	if err := s.remove(ctx, cutoff, result); err != nil {
		return nil, err
	}

	counts, err := s.repo.CountPublications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count publications: %w", err)
	}

	result.Counts = counts
	result.Elapsed = s.now().Sub(start)

	s.observer.ObserveCleanup(result.Elapsed, counts.Incomplete, counts.Completed)
	s.log.Info("cleanup finished",
		slog.String("mode", string(s.mode)),
		slog.Time("cutoff", result.Cutoff),
		slog.Int("purged", result.Purged),
		slog.Int("incomplete", counts.Incomplete),
		slog.Int("completed", counts.Completed),
		slog.Duration("elapsed", result.Elapsed),
	)

	return result, nil
}

func (s *CleanupServiceImpl) remove(ctx context.Context, cutoff *time.Time, result *CleanupResult) error {
	switch s.mode {
	case CleanupModeRaw:
		n, err := s.repo.PurgeCompletedPublications(ctx, cutoff)
		result.Purged = n

		if err != nil {
			return fmt.Errorf("failed to purge completed publications: %w", err)
		}
	case CleanupModeTyped, "":
		var err error
		if cutoff == nil {
			err = s.repo.DeleteCompletedPublications(ctx)
		} else {
			err = s.repo.DeleteCompletedPublicationsBefore(ctx, *cutoff)
		}

		if err != nil {
			return fmt.Errorf("failed to delete completed publications: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCleanupMode, s.mode)
	}

	return nil
}
