package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/retry"
	"github.com/jnst/event-publication-outbox/internal/serializer"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// Reasons a stored publication is left out of read results.
const (
	SkipReasonTypeNotRegistered = "type_not_registered"
	SkipReasonDeserialization   = "deserialization_failed"
)

// timestampPrecision is the finest resolution every store backend persists.
const timestampPrecision = time.Microsecond

type noopObserver struct{}

func (noopObserver) PublicationCreated()       {}
func (noopObserver) PublicationCompleted()     {}
func (noopObserver) PublicationsDeleted(int)   {}
func (noopObserver) PublicationSkipped(string) {}

// Option customizes EventPublicationRepositoryImpl.
type Option func(*EventPublicationRepositoryImpl)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *EventPublicationRepositoryImpl) {
		if log != nil {
			r.log = log
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(observer Observer) Option {
	return func(r *EventPublicationRepositoryImpl) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// WithCompletionMode selects how completion is persisted.
func WithCompletionMode(mode CompletionMode) Option {
	return func(r *EventPublicationRepositoryImpl) {
		r.mode = mode
	}
}

// WithIDGenerator replaces uuid.New for new publication ids.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(r *EventPublicationRepositoryImpl) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// EventPublicationRepositoryImpl implements EventPublicationRepository on a store.Store.
type EventPublicationRepositoryImpl struct {
	store      store.Store
	serializer serializer.EventSerializer
	retrier    *retry.Retrier
	log        *slog.Logger
	observer   Observer
	mode       CompletionMode
	newID      func() uuid.UUID
}

// NewEventPublicationRepositoryImpl creates a new EventPublicationRepository implementation.
func NewEventPublicationRepositoryImpl(
	s store.Store,
	eventSerializer serializer.EventSerializer,
	retrier *retry.Retrier,
	opts ...Option,
) EventPublicationRepository {
	r := &EventPublicationRepositoryImpl{
		store:      s,
		serializer: eventSerializer,
		retrier:    retrier,
		log:        slog.Default(),
		observer:   noopObserver{},
		mode:       CompletionModeUpdate,
		newID:      uuid.New,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create serializes event and persists a new incomplete publication for listenerID. Dates are
// truncated to microseconds, the resolution of the coarsest backend.
func (r *EventPublicationRepositoryImpl) Create(
	ctx context.Context, event any, listenerID string, publicationDate time.Time,
) (*model.PublicationAdapter, error) {
	serialized, err := r.serializer.Serialize(event)
	if err != nil {
		return nil, err
	}

	publication := model.NewPublication(
		r.newID(), publicationDate.Truncate(timestampPrecision), listenerID, serialized, r.serializer.TypeName(event),
	)

	err = r.retrier.Do(ctx, "create", func(ctx context.Context) error {
		return r.store.Save(ctx, publication)
	})
	if err != nil {
		return nil, err
	}

	r.observer.PublicationCreated()
	r.log.Debug("publication created",
		slog.String("id", publication.ID.String()),
		slog.String("listener_id", listenerID),
		slog.String("event_type", publication.EventType),
	)

	return model.NewPublicationAdapter(publication, func() (any, error) { return event, nil }), nil
}

// MarkCompleted completes the publication with the given id. A missing record is not an error.
func (r *EventPublicationRepositoryImpl) MarkCompleted(ctx context.Context, id uuid.UUID, completionDate time.Time) error {
	completionDate = completionDate.Truncate(timestampPrecision)

	var found bool

	err := r.retrier.Do(ctx, "markCompleted", func(ctx context.Context) error {
		found = false

		return r.store.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			publication, err := tx.FindByID(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}

			if err != nil {
				return err
			}

			found = true

			if r.mode == CompletionModeDelete {
				return tx.DeleteByID(ctx, id)
			}

			publication.MarkCompleted(completionDate)

			return tx.Save(ctx, publication)
		})
	})
	if err != nil {
		return err
	}

	if !found {
		r.log.Debug("publication to complete not found", slog.String("id", id.String()))
		return nil
	}

	r.observer.PublicationCompleted()

	return nil
}

// MarkCompletedByEventAndTarget completes the earliest incomplete publication of event for
// listenerID, matched by serialized form. No match is not an error.
func (r *EventPublicationRepositoryImpl) MarkCompletedByEventAndTarget(
	ctx context.Context, event any, listenerID string, completionDate time.Time,
) error {
	serialized, err := r.serializer.Serialize(event)
	if err != nil {
		return err
	}

	completionDate = completionDate.Truncate(timestampPrecision)

	var completed bool

	err = r.retrier.Do(ctx, "markCompletedByEvent", func(ctx context.Context) error {
		completed = false

		publication, err := r.findEarliestIncomplete(ctx, serialized, listenerID)
		if err != nil || publication == nil {
			return err
		}

		if r.mode == CompletionModeDelete {
			err = r.store.DeleteByID(ctx, publication.ID)
		} else {
			publication.MarkCompleted(completionDate)
			err = r.store.Save(ctx, publication)
		}

		completed = err == nil

		return err
	})
	if err != nil {
		return err
	}

	if completed {
		r.observer.PublicationCompleted()
	}

	return nil
}

// MarkPublicationCompleted completes the publication behind an adapter.
func (r *EventPublicationRepositoryImpl) MarkPublicationCompleted(
	ctx context.Context, publication *model.PublicationAdapter, completionDate time.Time,
) error {
	if publication == nil {
		return nil
	}

	return r.MarkCompleted(ctx, publication.Identifier(), completionDate)
}

// FindIncompletePublications returns incomplete publications, oldest first.
func (r *EventPublicationRepositoryImpl) FindIncompletePublications(ctx context.Context) ([]*model.PublicationAdapter, error) {
	return r.resolve(ctx, store.NewQuery(
		store.IsNull(model.FieldCompletionDate),
	).OrderedBy(model.FieldPublicationDate))
}

// FindIncompletePublicationsPublishedBefore returns incomplete publications published strictly
// before cutoff, oldest first.
func (r *EventPublicationRepositoryImpl) FindIncompletePublicationsPublishedBefore(
	ctx context.Context, cutoff time.Time,
) ([]*model.PublicationAdapter, error) {
	return r.resolve(ctx, store.NewQuery(
		store.IsNull(model.FieldCompletionDate),
		store.Before(model.FieldPublicationDate, cutoff),
	).OrderedBy(model.FieldPublicationDate))
}

// FindCompletedPublications returns completed publications, oldest first.
func (r *EventPublicationRepositoryImpl) FindCompletedPublications(ctx context.Context) ([]*model.PublicationAdapter, error) {
	return r.resolve(ctx, store.NewQuery(
		store.NotNull(model.FieldCompletionDate),
	).OrderedBy(model.FieldPublicationDate))
}

// FindIncompletePublicationsByEventAndTargetIdentifier returns the earliest incomplete
// publication of event for listenerID, or nil when there is none or it cannot be deserialized.
func (r *EventPublicationRepositoryImpl) FindIncompletePublicationsByEventAndTargetIdentifier(
	ctx context.Context, event any, listenerID string,
) (*model.PublicationAdapter, error) {
	serialized, err := r.serializer.Serialize(event)
	if err != nil {
		return nil, err
	}

	publication, err := r.findEarliestIncomplete(ctx, serialized, listenerID)
	if err != nil || publication == nil {
		return nil, err
	}

	adapter, ok := r.adapt(publication)
	if !ok {
		return nil, nil
	}

	return adapter, nil
}

// ListPublications returns incomplete or completed records, oldest first, regardless of
// whether their event type is registered.
func (r *EventPublicationRepositoryImpl) ListPublications(
	ctx context.Context, completed bool,
) ([]*model.Publication, error) {
	predicate := store.IsNull(model.FieldCompletionDate)
	if completed {
		predicate = store.NotNull(model.FieldCompletionDate)
	}

	q := store.NewQuery(predicate).OrderedBy(model.FieldPublicationDate)

	records, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	return store.Apply(q, records), nil
}

// DeletePublications deletes every id, continuing past failures. Missing ids are not errors.
func (r *EventPublicationRepositoryImpl) DeletePublications(ctx context.Context, ids []uuid.UUID) error {
	_, err := r.deleteAll(ctx, ids)
	return err
}

// DeleteCompletedPublications deletes the publications FindCompletedPublications returns.
func (r *EventPublicationRepositoryImpl) DeleteCompletedPublications(ctx context.Context) error {
	publications, err := r.FindCompletedPublications(ctx)
	if err != nil {
		return err
	}

	return r.DeletePublications(ctx, identifiers(publications))
}

// DeleteCompletedPublicationsBefore deletes completed publications whose completion date is
// strictly before cutoff.
func (r *EventPublicationRepositoryImpl) DeleteCompletedPublicationsBefore(ctx context.Context, cutoff time.Time) error {
	publications, err := r.resolve(ctx, store.NewQuery(
		store.NotNull(model.FieldCompletionDate),
		store.Before(model.FieldCompletionDate, cutoff),
	).OrderedBy(model.FieldPublicationDate))
	if err != nil {
		return err
	}

	return r.DeletePublications(ctx, identifiers(publications))
}

// PurgeCompletedPublications deletes completed records without deserializing them.
func (r *EventPublicationRepositoryImpl) PurgeCompletedPublications(ctx context.Context, cutoff *time.Time) (int, error) {
	predicates := []store.Predicate{store.NotNull(model.FieldCompletionDate)}
	if cutoff != nil {
		predicates = append(predicates, store.Before(model.FieldCompletionDate, *cutoff))
	}

	q := store.NewQuery(predicates...)

	records, err := r.store.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query completed publications: %w", err)
	}

	records = store.Apply(q, records)

	ids := make([]uuid.UUID, len(records))
	for i, p := range records {
		ids[i] = p.ID
	}

	return r.deleteAll(ctx, ids)
}

// CountPublications counts incomplete and completed records, regardless of event type.
func (r *EventPublicationRepositoryImpl) CountPublications(ctx context.Context) (model.PublicationCounts, error) {
	incomplete, err := r.store.Count(ctx, store.NewQuery(store.IsNull(model.FieldCompletionDate)))
	if err != nil {
		return model.PublicationCounts{}, fmt.Errorf("count incomplete publications: %w", err)
	}

	completed, err := r.store.Count(ctx, store.NewQuery(store.NotNull(model.FieldCompletionDate)))
	if err != nil {
		return model.PublicationCounts{}, fmt.Errorf("count completed publications: %w", err)
	}

	return model.PublicationCounts{Incomplete: incomplete, Completed: completed}, nil
}

func (r *EventPublicationRepositoryImpl) findEarliestIncomplete(
	ctx context.Context, serialized, listenerID string,
) (*model.Publication, error) {
	q := store.NewQuery(
		store.IsNull(model.FieldCompletionDate),
		store.Equal(model.FieldListenerID, listenerID),
		store.Equal(model.FieldSerializedEvent, serialized),
	).OrderedBy(model.FieldPublicationDate)

	records, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	records = store.Apply(q, records)
	if len(records) == 0 {
		return nil, nil
	}

	return records[0], nil
}

// resolve runs q, re-applies it locally, and drops records whose event cannot be deserialized.
func (r *EventPublicationRepositoryImpl) resolve(ctx context.Context, q store.Query) ([]*model.PublicationAdapter, error) {
	records, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	records = store.Apply(q, records)

	adapters := make([]*model.PublicationAdapter, 0, len(records))
	for _, p := range records {
		if adapter, ok := r.adapt(p); ok {
			adapters = append(adapters, adapter)
		}
	}

	return adapters, nil
}

func (r *EventPublicationRepositoryImpl) adapt(p *model.Publication) (*model.PublicationAdapter, bool) {
	event, err := r.serializer.Deserialize(p.SerializedEvent, p.EventType)
	if err != nil {
		reason := SkipReasonDeserialization
		if errors.Is(err, model.ErrTypeNotRegistered) {
			reason = SkipReasonTypeNotRegistered
		}

		r.observer.PublicationSkipped(reason)
		r.log.Debug("skipping publication with undeserializable event",
			slog.String("id", p.ID.String()),
			slog.String("event_type", p.EventType),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)

		return nil, false
	}

	return model.NewPublicationAdapter(p, func() (any, error) { return event, nil }), true
}

func (r *EventPublicationRepositoryImpl) deleteAll(ctx context.Context, ids []uuid.UUID) (int, error) {
	var (
		deleted int
		errs    []error
	)

	for _, id := range ids {
		err := r.retrier.Do(ctx, "delete", func(ctx context.Context) error {
			return r.store.DeleteByID(ctx, id)
		})
		if err != nil {
			r.log.Error("failed to delete publication",
				slog.String("id", id.String()),
				slog.String("error", err.Error()),
			)

			errs = append(errs, err)

			if ctx.Err() != nil {
				break
			}

			continue
		}

		deleted++
	}

	if deleted > 0 {
		r.observer.PublicationsDeleted(deleted)
	}

	if len(errs) == 1 {
		return deleted, errs[0]
	}

	return deleted, errors.Join(errs...)
}

func identifiers(publications []*model.PublicationAdapter) []uuid.UUID {
	ids := make([]uuid.UUID, len(publications))
	for i, p := range publications {
		ids[i] = p.Identifier()
	}

	return ids
}
