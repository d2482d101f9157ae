// Package repository provides the event publication repository.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// EventPublicationRepository persists, queries, completes and cleans up event publications.
// Writes are retried under the configured retry policy. Reads exclude records whose
// event cannot be deserialized instead of failing.
type EventPublicationRepository interface {
	Create(ctx context.Context, event any, listenerID string, publicationDate time.Time) (*model.PublicationAdapter, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, completionDate time.Time) error
	MarkCompletedByEventAndTarget(ctx context.Context, event any, listenerID string, completionDate time.Time) error
	MarkPublicationCompleted(ctx context.Context, publication *model.PublicationAdapter, completionDate time.Time) error

	FindIncompletePublications(ctx context.Context) ([]*model.PublicationAdapter, error)
	FindIncompletePublicationsPublishedBefore(ctx context.Context, cutoff time.Time) ([]*model.PublicationAdapter, error)
	FindCompletedPublications(ctx context.Context) ([]*model.PublicationAdapter, error)
	FindIncompletePublicationsByEventAndTargetIdentifier(
		ctx context.Context, event any, listenerID string,
	) (*model.PublicationAdapter, error)

	// ListPublications returns stored records oldest first without deserializing their
	// events, so records of unregistered types are included.
	ListPublications(ctx context.Context, completed bool) ([]*model.Publication, error)

	DeletePublications(ctx context.Context, ids []uuid.UUID) error
	DeleteCompletedPublications(ctx context.Context) error
	DeleteCompletedPublicationsBefore(ctx context.Context, cutoff time.Time) error
	// PurgeCompletedPublications deletes completed records by filter alone, including those
	// whose event can no longer be deserialized. A nil cutoff purges every completed record.
	PurgeCompletedPublications(ctx context.Context, cutoff *time.Time) (int, error)

	CountPublications(ctx context.Context) (model.PublicationCounts, error)
}

// Observer receives repository events, e.g. to export metrics.
type Observer interface {
	PublicationCreated()
	PublicationCompleted()
	PublicationsDeleted(n int)
	PublicationSkipped(reason string)
}
