// Package service provides the periodic cleanup of completed event publications.
package service

import (
	"context"
	"time"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// CleanupService removes completed publications that are older than the retention period.
type CleanupService interface {
	RunCleanup(ctx context.Context) (*CleanupResult, error)
}

// CleanupResult summarizes one cleanup run.
type CleanupResult struct {
	Cutoff time.Time
	// Purged is the number of records removed in raw mode. Typed cleanup does not report it.
	Purged  int
	Counts  model.PublicationCounts
	Elapsed time.Duration
}

// CleanupObserver receives the outcome of each cleanup run.
type CleanupObserver interface {
	ObserveCleanup(elapsed time.Duration, incomplete, completed int)
}
