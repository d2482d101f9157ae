// Package redis stores publication records as Redis hashes via rueidis.
//
// Each record lives in its own hash; a sorted set scored by publication date
// lists every id. Queries read the sorted set and evaluate predicates locally.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "outbox"

// StoreImpl implements store.Store on Redis.
type StoreImpl struct {
	client rueidis.Client
	prefix string
}

// NewStoreImpl creates a store writing keys under prefix.
func NewStoreImpl(client rueidis.Client, prefix string) *StoreImpl {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &StoreImpl{client: client, prefix: prefix}
}

func (s *StoreImpl) recordKey(id uuid.UUID) string {
	return s.prefix + ":publication:" + id.String()
}

func (s *StoreImpl) indexKey() string {
	return s.prefix + ":publications:by-date"
}

// Save replaces the record hash and its index entry atomically.
func (s *StoreImpl) Save(ctx context.Context, publication *model.Publication) error {
	cmds := make(rueidis.Commands, 0, 5)
	cmds = append(cmds, s.client.B().Multi().Build())
	cmds = append(cmds, s.saveCommands(s.client.B(), publication)...)
	cmds = append(cmds, s.client.B().Exec().Build())

	return execResult("save", s.client.DoMulti(ctx, cmds...))
}

// FindByID returns the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error) {
	return s.hgetall(ctx, s.client, id)
}

// FindAll returns up to limit records in publication date order.
func (s *StoreImpl) FindAll(ctx context.Context, limit int) ([]*model.Publication, error) {
	stop := "-1"
	if limit > 0 {
		stop = fmt.Sprint(limit - 1)
	}

	ids, err := s.client.Do(ctx, s.client.B().Zrange().Key(s.indexKey()).Min("0").Max(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, classify("findAll", err)
	}

	if len(ids) == 0 {
		return []*model.Publication{}, nil
	}

	cmds := make(rueidis.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = s.client.B().Hgetall().Key(s.prefix + ":publication:" + id).Build()
	}

	publications := make([]*model.Publication, 0, len(ids))
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		fields, err := resp.AsStrMap()
		if err != nil {
			return nil, classify("findAll", err)
		}

		// Deleted between ZRANGE and HGETALL.
		if len(fields) == 0 {
			continue
		}

		p, err := decode(fields)
		if err != nil {
			return nil, model.NewStoreError("findAll", model.ErrStoreUnavailable, err)
		}

		publications = append(publications, p)
	}

	return publications, nil
}

// Query loads every record and evaluates q locally.
func (s *StoreImpl) Query(ctx context.Context, q store.Query) ([]*model.Publication, error) {
	all, err := s.FindAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	return store.Apply(q, all), nil
}

// DeleteByID removes the record and its index entry.
func (s *StoreImpl) DeleteByID(ctx context.Context, id uuid.UUID) error {
	cmds := make(rueidis.Commands, 0, 4)
	cmds = append(cmds, s.client.B().Multi().Build())
	cmds = append(cmds, s.deleteCommands(s.client.B(), id)...)
	cmds = append(cmds, s.client.B().Exec().Build())

	return execResult("deleteById", s.client.DoMulti(ctx, cmds...))
}

// Count returns the number of records matching q.
func (s *StoreImpl) Count(ctx context.Context, q store.Query) (int, error) {
	if len(q.Predicates) == 0 {
		n, err := s.client.Do(ctx, s.client.B().Zcard().Key(s.indexKey()).Build()).AsInt64()
		if err != nil {
			return 0, classify("count", err)
		}

		return int(n), nil
	}

	matched, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	return len(matched), nil
}

func (s *StoreImpl) saveCommands(b rueidis.Builder, p *model.Publication) rueidis.Commands {
	key := s.recordKey(p.ID)

	hset := b.Hset().Key(key).FieldValue().
		FieldValue(model.FieldID, p.ID.String()).
		FieldValue(model.FieldPublicationDate, p.PublicationDate.UTC().Format(time.RFC3339Nano)).
		FieldValue(model.FieldListenerID, p.ListenerID).
		FieldValue(model.FieldSerializedEvent, p.SerializedEvent).
		FieldValue(model.FieldEventType, p.EventType)

	if p.CompletionDate != nil {
		hset = hset.FieldValue(model.FieldCompletionDate, p.CompletionDate.UTC().Format(time.RFC3339Nano))
	}

	return rueidis.Commands{
		b.Del().Key(key).Build(),
		hset.Build(),
		b.Zadd().Key(s.indexKey()).ScoreMember().
			ScoreMember(float64(p.PublicationDate.UnixMilli()), p.ID.String()).Build(),
	}
}

func (s *StoreImpl) deleteCommands(b rueidis.Builder, id uuid.UUID) rueidis.Commands {
	return rueidis.Commands{
		b.Del().Key(s.recordKey(id)).Build(),
		b.Zrem().Key(s.indexKey()).Member(id.String()).Build(),
	}
}

type doer interface {
	B() rueidis.Builder
	Do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult
}

func (s *StoreImpl) hgetall(ctx context.Context, c doer, id uuid.UUID) (*model.Publication, error) {
	fields, err := c.Do(ctx, c.B().Hgetall().Key(s.recordKey(id)).Build()).AsStrMap()
	if err != nil {
		return nil, classify("findById", err)
	}

	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}

	p, err := decode(fields)
	if err != nil {
		return nil, model.NewStoreError("findById", model.ErrStoreUnavailable, err)
	}

	return p, nil
}

// execResult checks the replies of a MULTI ... EXEC pipeline. A nil EXEC reply means a
// watched key changed.
func execResult(op string, results []rueidis.RedisResult) error {
	for i, resp := range results {
		err := resp.Error()
		if err == nil {
			continue
		}

		if i == len(results)-1 && rueidis.IsRedisNil(err) {
			return model.NewStoreError(op, model.ErrContention, errors.New("watched key modified by a concurrent writer"))
		}

		return classify(op, err)
	}

	return nil
}

func decode(fields map[string]string) (*model.Publication, error) {
	id, err := uuid.Parse(fields[model.FieldID])
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}

	publicationDate, err := time.Parse(time.RFC3339Nano, fields[model.FieldPublicationDate])
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", model.FieldPublicationDate, err)
	}

	p := model.NewPublication(id, publicationDate,
		fields[model.FieldListenerID], fields[model.FieldSerializedEvent], fields[model.FieldEventType])

	if raw, ok := fields[model.FieldCompletionDate]; ok {
		completionDate, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", model.FieldCompletionDate, err)
		}

		p.MarkCompleted(completionDate)
	}

	return p, nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	if redisErr, ok := rueidis.IsRedisErr(err); ok && strings.HasPrefix(redisErr.Error(), "EXECABORT") {
		return model.NewStoreError(op, model.ErrTransactionApply, err)
	}

	return model.NewStoreError(op, model.ErrStoreUnavailable, err)
}
