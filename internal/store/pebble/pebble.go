// Package pebblestore stores publication records in an embedded Pebble database.
package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

var keyPrefix = []byte("pub/")

// Options configures the Pebble store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Sync forces a WAL fsync on every write.
	Sync bool
	// PebbleOptions allows advanced tuning. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// StoreImpl implements store.Store on Pebble. Writers are serialized by a mutex,
// which makes transactions trivially isolated on this single-process store.
type StoreImpl struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	mu        sync.Mutex
}

// Open creates or opens the database at opts.DataDir.
func Open(opts Options) (*StoreImpl, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", opts.DataDir, err)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}

	return &StoreImpl{db: db, writeOpts: writeOpts}, nil
}

// Close closes the database.
func (s *StoreImpl) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func recordKey(id uuid.UUID) []byte {
	return append(append([]byte(nil), keyPrefix...), id.String()...)
}

// prefixEnd returns the exclusive upper bound of keys sharing prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}

	return nil
}

// Save writes the record.
func (s *StoreImpl) Save(_ context.Context, publication *model.Publication) error {
	value, err := json.Marshal(publication)
	if err != nil {
		return fmt.Errorf("encode publication %s: %w", publication.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Set(recordKey(publication.ID), value, s.writeOpts); err != nil {
		return model.NewStoreError("save", model.ErrStoreUnavailable, err)
	}

	return nil
}

// FindByID returns the record or store.ErrNotFound.
func (s *StoreImpl) FindByID(_ context.Context, id uuid.UUID) (*model.Publication, error) {
	return get(s.db, id)
}

// FindAll returns up to limit records in key order.
func (s *StoreImpl) FindAll(_ context.Context, limit int) ([]*model.Publication, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: prefixEnd(keyPrefix)})
	if err != nil {
		return nil, model.NewStoreError("findAll", model.ErrStoreUnavailable, err)
	}
	defer iter.Close()

	publications := make([]*model.Publication, 0)
	for valid := iter.First(); valid; valid = iter.Next() {
		if limit > 0 && len(publications) == limit {
			break
		}

		var p model.Publication
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, model.NewStoreError("findAll", model.ErrStoreUnavailable,
				fmt.Errorf("decode %s: %w", iter.Key(), err))
		}

		publications = append(publications, &p)
	}

	if err := iter.Error(); err != nil {
		return nil, model.NewStoreError("findAll", model.ErrStoreUnavailable, err)
	}

	return publications, nil
}

// Query scans every record and evaluates q locally.
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

	if err := s.db.Delete(recordKey(id), s.writeOpts); err != nil {
		return model.NewStoreError("deleteById", model.ErrStoreUnavailable, err)
	}

	return nil
}

// Count returns the number of records matching q.
func (s *StoreImpl) Count(ctx context.Context, q store.Query) (int, error) {
	matched, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	return len(matched), nil
}

// WithTransaction stages fn's writes in an indexed batch and commits it when fn succeeds.
func (s *StoreImpl) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(ctx, &txImpl{batch: batch}); err != nil {
		return err
	}

	if err := batch.Commit(s.writeOpts); err != nil {
		return model.NewStoreError("commit", model.ErrTransactionApply, err)
	}

	return nil
}

type txImpl struct {
	batch *pebble.Batch
}

func (t *txImpl) FindByID(_ context.Context, id uuid.UUID) (*model.Publication, error) {
	return get(t.batch, id)
}

func (t *txImpl) Save(_ context.Context, publication *model.Publication) error {
	value, err := json.Marshal(publication)
	if err != nil {
		return fmt.Errorf("encode publication %s: %w", publication.ID, err)
	}

	return t.batch.Set(recordKey(publication.ID), value, nil)
}

func (t *txImpl) DeleteByID(_ context.Context, id uuid.UUID) error {
	return t.batch.Delete(recordKey(id), nil)
}

func get(r pebble.Reader, id uuid.UUID) (*model.Publication, error) {
	value, closer, err := r.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, model.NewStoreError("findById", model.ErrStoreUnavailable, err)
	}
	defer closer.Close()

	var p model.Publication
	if err := json.Unmarshal(value, &p); err != nil {
		return nil, model.NewStoreError("findById", model.ErrStoreUnavailable, fmt.Errorf("decode %s: %w", id, err))
	}

	return &p, nil
}
