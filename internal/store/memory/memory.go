// Package memory provides an in-process Store, used for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// StoreImpl implements store.Store over a map guarded by a mutex.
type StoreImpl struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*model.Publication
}

// NewStoreImpl creates an empty in-memory store.
func NewStoreImpl() *StoreImpl {
	return &StoreImpl{records: make(map[uuid.UUID]*model.Publication)}
}

// Save inserts or replaces a record.
func (s *StoreImpl) Save(_ context.Context, publication *model.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[publication.ID] = publication.Clone()

	return nil
}

// FindByID returns a copy of the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(_ context.Context, id uuid.UUID) (*model.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return p.Clone(), nil
}

// FindAll returns up to limit records.
func (s *StoreImpl) FindAll(_ context.Context, limit int) ([]*model.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Publication, 0, len(s.records))
	for _, p := range s.records {
		if limit > 0 && len(out) == limit {
			break
		}

		out = append(out, p.Clone())
	}

	return out, nil
}

// Query evaluates q fully in memory.
func (s *StoreImpl) Query(ctx context.Context, q store.Query) ([]*model.Publication, error) {
	all, err := s.FindAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	return store.Apply(q, all), nil
}

// DeleteByID removes the record if present.
func (s *StoreImpl) DeleteByID(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)

	return nil
}

// Count returns the number of records matching q.
func (s *StoreImpl) Count(_ context.Context, q store.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.records {
		if q.Matches(p) {
			n++
		}
	}

	return n, nil
}

// WithTransaction holds the write lock for the duration of fn and applies its
// staged writes only when fn succeeds.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		records: s.records,
		writes:  make(map[uuid.UUID]*model.Publication),
		deletes: make(map[uuid.UUID]struct{}),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id := range tx.deletes {
		delete(s.records, id)
	}

	for id, p := range tx.writes {
		s.records[id] = p
	}

	return nil
}

type memoryTx struct {
	records map[uuid.UUID]*model.Publication
	writes  map[uuid.UUID]*model.Publication
	deletes map[uuid.UUID]struct{}
}

func (tx *memoryTx) FindByID(_ context.Context, id uuid.UUID) (*model.Publication, error) {
	if p, ok := tx.writes[id]; ok {
		return p.Clone(), nil
	}

	if _, ok := tx.deletes[id]; ok {
		return nil, store.ErrNotFound
	}

	p, ok := tx.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return p.Clone(), nil
}

func (tx *memoryTx) Save(_ context.Context, publication *model.Publication) error {
	delete(tx.deletes, publication.ID)
	tx.writes[publication.ID] = publication.Clone()

	return nil
}

func (tx *memoryTx) DeleteByID(_ context.Context, id uuid.UUID) error {
	delete(tx.writes, id)
	tx.deletes[id] = struct{}{}

	return nil
}
