// Package datastore stores publication records as Google Cloud Datastore entities.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// entity is the datastore form of a publication. The key name carries the id.
type entity struct {
	id              uuid.UUID
	publicationDate time.Time
	listenerID      string
	serializedEvent string
	eventType       string
	completionDate  *time.Time
}

// Load implements datastore.PropertyLoadSaver.
func (e *entity) Load(props []datastore.Property) error {
	for _, prop := range props {
		switch prop.Name {
		case model.FieldPublicationDate:
			t, ok := prop.Value.(time.Time)
			if !ok {
				return fmt.Errorf("%s: unexpected %T", prop.Name, prop.Value)
			}

			e.publicationDate = t
		case model.FieldListenerID:
			e.listenerID, _ = prop.Value.(string)
		case model.FieldSerializedEvent:
			e.serializedEvent, _ = prop.Value.(string)
		case model.FieldEventType:
			e.eventType, _ = prop.Value.(string)
		case model.FieldCompletionDate:
			if t, ok := prop.Value.(time.Time); ok {
				e.completionDate = &t
			}
		}
	}

	return nil
}

// LoadKey implements datastore.KeyLoader.
func (e *entity) LoadKey(k *datastore.Key) error {
	id, err := uuid.Parse(k.Name)
	if err != nil {
		return fmt.Errorf("parse key %q: %w", k.Name, err)
	}

	e.id = id

	return nil
}

// Save implements datastore.PropertyLoadSaver. completionDate is always written, as an
// explicit null when incomplete, so equality-with-null filters can match it.
func (e *entity) Save() ([]datastore.Property, error) {
	var completionDate any
	if e.completionDate != nil {
		completionDate = *e.completionDate
	}

	return []datastore.Property{
		{Name: model.FieldPublicationDate, Value: e.publicationDate},
		{Name: model.FieldListenerID, Value: e.listenerID},
		{Name: model.FieldSerializedEvent, Value: e.serializedEvent, NoIndex: true},
		{Name: model.FieldEventType, Value: e.eventType},
		{Name: model.FieldCompletionDate, Value: completionDate},
	}, nil
}

func toEntity(p *model.Publication) *entity {
	return &entity{
		id:              p.ID,
		publicationDate: p.PublicationDate,
		listenerID:      p.ListenerID,
		serializedEvent: p.SerializedEvent,
		eventType:       p.EventType,
		completionDate:  p.CompletionDate,
	}
}

func (e *entity) publication() *model.Publication {
	p := model.NewPublication(e.id, e.publicationDate, e.listenerID, e.serializedEvent, e.eventType)
	if e.completionDate != nil {
		p.MarkCompleted(*e.completionDate)
	}

	return p
}

// StoreImpl implements store.Store on Cloud Datastore.
type StoreImpl struct {
	client    *datastore.Client
	namespace string
}

// NewStoreImpl creates a store writing entities of kind model.Kind into namespace.
func NewStoreImpl(client *datastore.Client, namespace string) *StoreImpl {
	return &StoreImpl{client: client, namespace: namespace}
}

func (s *StoreImpl) key(id uuid.UUID) *datastore.Key {
	k := datastore.NameKey(model.Kind, id.String(), nil)
	k.Namespace = s.namespace

	return k
}

func (s *StoreImpl) newQuery() *datastore.Query {
	return datastore.NewQuery(model.Kind).Namespace(s.namespace)
}

// Save upserts the entity.
func (s *StoreImpl) Save(ctx context.Context, publication *model.Publication) error {
	_, err := s.client.Put(ctx, s.key(publication.ID), toEntity(publication))
	return classify("save", err)
}

// FindByID returns the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	var e entity
	if err := s.client.Get(ctx, s.key(id), &e); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, store.ErrNotFound
		}

		return nil, classify("findById", err)
	}

	return e.publication(), nil
}

// FindAll returns up to limit records.
func (s *StoreImpl) FindAll(ctx context.Context, limit int) ([]*model.Publication, error) {
	q := s.newQuery()
	if limit > 0 {
		q = q.Limit(limit)
	}

	return s.getAll(ctx, "findAll", q)
}

// Query pushes the supported subset of q down and evaluates the rest locally.
func (s *StoreImpl) Query(ctx context.Context, q store.Query) ([]*model.Publication, error) {
	dq, _ := s.pushDown(q)

	records, err := s.getAll(ctx, "query", dq)
	if err != nil {
		return nil, err
	}

	return store.Apply(q, records), nil
}

// DeleteByID removes the entity; a missing key is not an error.
func (s *StoreImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return classify("deleteById", s.client.Delete(ctx, s.key(id)))
}

// Count uses a server-side count when the whole query can be pushed down.
func (s *StoreImpl) Count(ctx context.Context, q store.Query) (int, error) {
	dq, complete := s.pushDown(q)
	if !complete {
		matched, err := s.Query(ctx, q)
		if err != nil {
			return 0, err
		}

		return len(matched), nil
	}

	n, err := s.client.Count(ctx, dq)
	if err != nil {
		return 0, classify("count", err)
	}

	return n, nil
}

// WithTransaction runs fn in a single Datastore transaction attempt. Conflicts surface as
// model.ErrContention for the caller's retry policy.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var fnErr error

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		fnErr = fn(ctx, &txImpl{store: s, tx: tx})
		return fnErr
	}, datastore.MaxAttempts(1))

	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	case errors.Is(err, datastore.ErrConcurrentTransaction):
		return model.NewStoreError("commit", model.ErrContention, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	if converted, ok := classify("commit", err).(*model.StoreError); ok && converted.Kind == model.ErrStoreUnavailable {
		return model.NewStoreError("commit", model.ErrTransactionApply, err)
	}

	return classify("commit", err)
}

// pushDown translates the predicates Datastore can serve without extra indexes on
// inequality ordering: equality, equality with null, and a single strict upper bound on
// the sort property. It reports whether every predicate was translated.
func (s *StoreImpl) pushDown(q store.Query) (*datastore.Query, bool) {
	dq := s.newQuery()
	complete := true

	for _, pred := range q.Predicates {
		switch {
		case pred.Op == store.OpEqual && pred.Field != model.FieldID && pred.Field != model.FieldSerializedEvent:
			dq = dq.FilterField(pred.Field, "=", pred.Value)
		case pred.Op == store.OpIsNull && pred.Field == model.FieldCompletionDate:
			dq = dq.FilterField(pred.Field, "=", nil)
		case pred.Op == store.OpBefore && pred.Field == model.FieldPublicationDate &&
			(q.OrderBy == "" || q.OrderBy == model.FieldPublicationDate):
			dq = dq.FilterField(pred.Field, "<", pred.Value)
		default:
			complete = false
		}
	}

	if q.OrderBy == model.FieldPublicationDate {
		dq = dq.Order(q.OrderBy)
	}

	return dq, complete
}

func (s *StoreImpl) getAll(ctx context.Context, op string, q *datastore.Query) ([]*model.Publication, error) {
	var entities []*entity
	if _, err := s.client.GetAll(ctx, q, &entities); err != nil {
		return nil, classify(op, err)
	}

	publications := make([]*model.Publication, len(entities))
	for i, e := range entities {
		publications[i] = e.publication()
	}

	return publications, nil
}

type txImpl struct {
	store *StoreImpl
	tx    *datastore.Transaction
}

func (t *txImpl) FindByID(_ context.Context, id uuid.UUID) (*model.Publication, error) {
	var e entity
	if err := t.tx.Get(t.store.key(id), &e); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, store.ErrNotFound
		}

		return nil, classify("findById", err)
	}

	e.id = id

	return e.publication(), nil
}

func (t *txImpl) Save(_ context.Context, publication *model.Publication) error {
	_, err := t.tx.Put(t.store.key(publication.ID), toEntity(publication))
	return classify("save", err)
}

func (t *txImpl) DeleteByID(_ context.Context, id uuid.UUID) error {
	return classify("deleteById", t.tx.Delete(t.store.key(id)))
}

// classify maps gRPC status codes onto the store error classes. Context errors pass through.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, datastore.ErrConcurrentTransaction):
		return model.NewStoreError(op, model.ErrContention, err)
	}

	switch status.Code(err) {
	case codes.Aborted:
		return model.NewStoreError(op, model.ErrContention, err)
	case codes.FailedPrecondition:
		return model.NewStoreError(op, model.ErrTransactionApply, err)
	default:
		return model.NewStoreError(op, model.ErrStoreUnavailable, err)
	}
}
