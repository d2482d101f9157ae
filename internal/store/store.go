// Package store defines the document store port the publication repository runs on.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// ErrNotFound is returned by FindByID when no record has the requested id.
var ErrNotFound = errors.New("publication not found")

// Store translates document store primitives into publication persistence.
// Implementations may push down any subset of a Query; callers re-apply it with Apply.
// Timestamps are only guaranteed to round-trip at microsecond precision.
type Store interface {
	Save(ctx context.Context, publication *model.Publication) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error)
	// FindAll returns up to limit records in no particular order; limit <= 0 means all.
	FindAll(ctx context.Context, limit int) ([]*model.Publication, error)
	Query(ctx context.Context, q Query) ([]*model.Publication, error)
	// DeleteByID removes the record; a missing id is not an error.
	DeleteByID(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context, q Query) (int, error)
	// WithTransaction runs fn so that its reads and writes apply atomically.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the single-record surface available inside a transaction.
type Tx interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Publication, error)
	Save(ctx context.Context, publication *model.Publication) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// IndexManager is implemented by stores that can provision their own indexes.
type IndexManager interface {
	EnsureIndexes(ctx context.Context, indexes []IndexDefinition) error
}

// IndexDefinition describes a composite index over one kind.
type IndexDefinition struct {
	Kind       string          `yaml:"kind"`
	Properties []IndexProperty `yaml:"properties"`
}

// IndexProperty is one indexed field.
type IndexProperty struct {
	Name      string `yaml:"name"`
	Direction string `yaml:"direction"`
}

// Descending reports whether the property is indexed in descending order.
func (p IndexProperty) Descending() bool {
	return p.Direction == "desc" || p.Direction == "DESC"
}

// Fields returns the property names in index order.
func (d IndexDefinition) Fields() []string {
	fields := make([]string, len(d.Properties))
	for i, p := range d.Properties {
		fields[i] = p.Name
	}

	return fields
}
