// Package mongo stores publication records in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "event_publication"

// Server error codes and labels signalling conflicting transactions.
const (
	codeWriteConflict             = 112
	labelTransientTransaction     = "TransientTransactionError"
	labelUnknownTransactionCommit = "UnknownTransactionCommitResult"
)

var fields = map[string]string{
	model.FieldID:              "_id",
	model.FieldPublicationDate: model.FieldPublicationDate,
	model.FieldListenerID:      model.FieldListenerID,
	model.FieldSerializedEvent: model.FieldSerializedEvent,
	model.FieldEventType:       model.FieldEventType,
	model.FieldCompletionDate:  model.FieldCompletionDate,
}

var errUnknownField = errors.New("unknown publication field")

type document struct {
	ID              string     `bson:"_id"`
	PublicationDate time.Time  `bson:"publicationDate"`
	ListenerID      string     `bson:"listenerId"`
	SerializedEvent string     `bson:"serializedEvent"`
	EventType       string     `bson:"eventType"`
	CompletionDate  *time.Time `bson:"completionDate"`
}

func toDocument(p *model.Publication) document {
	return document{
		ID:              p.ID.String(),
		PublicationDate: p.PublicationDate,
		ListenerID:      p.ListenerID,
		SerializedEvent: p.SerializedEvent,
		EventType:       p.EventType,
		CompletionDate:  p.CompletionDate,
	}
}

func (d document) publication() (*model.Publication, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse _id %q: %w", d.ID, err)
	}

	p := model.NewPublication(id, d.PublicationDate, d.ListenerID, d.SerializedEvent, d.EventType)
	if d.CompletionDate != nil {
		p.MarkCompleted(*d.CompletionDate)
	}

	return p, nil
}

// StoreImpl implements store.Store and store.IndexManager on MongoDB.
type StoreImpl struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewStoreImpl creates a store over database.collection.
func NewStoreImpl(client *mongo.Client, database, collection string) *StoreImpl {
	if collection == "" {
		collection = DefaultCollection
	}

	return &StoreImpl{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

// Save upserts the record.
func (s *StoreImpl) Save(ctx context.Context, publication *model.Publication) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": publication.ID.String()},
		toDocument(publication),
		options.Replace().SetUpsert(true),
	)

	return classify("save", err)
}

// FindByID returns the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	var doc document

	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, classify("findById", err)
	}

	p, err := doc.publication()
	if err != nil {
		return nil, model.NewStoreError("findById", model.ErrStoreUnavailable, err)
	}

	return p, nil
}

// FindAll returns up to limit records.
func (s *StoreImpl) FindAll(ctx context.Context, limit int) ([]*model.Publication, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.find(ctx, "findAll", bson.D{}, opts)
}

// Query pushes every predicate and the ordering down to the server.
func (s *StoreImpl) Query(ctx context.Context, q store.Query) ([]*model.Publication, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.OrderBy != "" {
		field, ok := fields[q.OrderBy]
		if !ok {
			return nil, fmt.Errorf("order by %q: %w", q.OrderBy, errUnknownField)
		}

		opts.SetSort(bson.D{{Key: field, Value: 1}})
	}

	return s.find(ctx, "query", filter, opts)
}

// DeleteByID removes the record if present.
func (s *StoreImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": id.String()})
	return classify("deleteById", err)
}

// Count returns the number of records matching q.
func (s *StoreImpl) Count(ctx context.Context, q store.Query) (int, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return 0, err
	}

	n, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, classify("count", err)
	}

	return int(n), nil
}

// EnsureIndexes creates one compound index per definition.
func (s *StoreImpl) EnsureIndexes(ctx context.Context, indexes []store.IndexDefinition) error {
	models := make([]mongo.IndexModel, 0, len(indexes))

	for _, def := range indexes {
		keys := bson.D{}
		for _, prop := range def.Properties {
			field, ok := fields[prop.Name]
			if !ok {
				return fmt.Errorf("index property %q: %w", prop.Name, errUnknownField)
			}

			order := 1
			if prop.Descending() {
				order = -1
			}

			keys = append(keys, bson.E{Key: field, Value: order})
		}

		if len(keys) == 0 {
			return fmt.Errorf("index on %s has no properties", def.Kind)
		}

		models = append(models, mongo.IndexModel{Keys: keys})
	}

	if len(models) == 0 {
		return nil
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, models); err != nil {
		return classify("ensureIndexes", err)
	}

	return nil
}

func (s *StoreImpl) find(ctx context.Context, op string, filter any, opts *options.FindOptions) ([]*model.Publication, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(op, err)
	}

	publications := make([]*model.Publication, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.publication()
		if err != nil {
			return nil, model.NewStoreError(op, model.ErrStoreUnavailable, err)
		}

		publications = append(publications, p)
	}

	return publications, nil
}

func buildFilter(q store.Query) (bson.D, error) {
	if len(q.Predicates) == 0 {
		return bson.D{}, nil
	}

	conditions := make(bson.A, 0, len(q.Predicates))

	for _, pred := range q.Predicates {
		field, ok := fields[pred.Field]
		if !ok {
			return nil, fmt.Errorf("filter on %q: %w", pred.Field, errUnknownField)
		}

		switch pred.Op {
		case store.OpEqual:
			conditions = append(conditions, bson.D{{Key: field, Value: pred.Value}})
		case store.OpIsNull:
			conditions = append(conditions, bson.D{{Key: field, Value: nil}})
		case store.OpNotNull:
			conditions = append(conditions, bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}})
		case store.OpBefore:
			conditions = append(conditions, bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: pred.Value}}}})
		default:
			return nil, fmt.Errorf("unsupported operator %d on %q", pred.Op, pred.Field)
		}
	}

	return bson.D{{Key: "$and", Value: conditions}}, nil
}

// classify maps driver errors onto the store error classes. Context errors pass through.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.HasErrorLabel(labelUnknownTransactionCommit):
			return model.NewStoreError(op, model.ErrTransactionApply, err)
		case serverErr.HasErrorLabel(labelTransientTransaction), serverErr.HasErrorCode(codeWriteConflict):
			return model.NewStoreError(op, model.ErrContention, err)
		}
	}

	return model.NewStoreError(op, model.ErrStoreUnavailable, err)
}
