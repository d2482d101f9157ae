// Package storetest holds the behavior every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Base is the reference timestamp fixtures are laid out from. Offsets are whole
// milliseconds so every backend stores them losslessly.
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// At returns Base shifted by d.
func At(d time.Duration) time.Time {
	return Base.Add(d)
}

// NewPublication builds an incomplete fixture published at Base+offset.
func NewPublication(listenerID string, offset time.Duration) *model.Publication {
	return model.NewPublication(uuid.New(), At(offset), listenerID, `{"orderId":"42"}`, "example.OrderPlaced")
}

// Completed builds a fixture completed at Base+completedAt.
func Completed(listenerID string, offset, completedAt time.Duration) *model.Publication {
	p := NewPublication(listenerID, offset)
	p.MarkCompleted(At(completedAt))

	return p
}

// AssertPublication compares records field by field, using instant equality for times.
func AssertPublication(t *testing.T, want, got *model.Publication) {
	t.Helper()

	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.PublicationDate.Equal(got.PublicationDate),
		"publicationDate: want %s, got %s", want.PublicationDate, got.PublicationDate)
	assert.Equal(t, want.ListenerID, got.ListenerID)
	assert.Equal(t, want.SerializedEvent, got.SerializedEvent)
	assert.Equal(t, want.EventType, got.EventType)

	if want.CompletionDate == nil {
		assert.Nil(t, got.CompletionDate)
		return
	}

	require.NotNil(t, got.CompletionDate)
	assert.True(t, want.CompletionDate.Equal(*got.CompletionDate),
		"completionDate: want %s, got %s", *want.CompletionDate, *got.CompletionDate)
}

// IDs returns the identifiers of records in order.
func IDs(records []*model.Publication) []uuid.UUID {
	ids := make([]uuid.UUID, len(records))
	for i, p := range records {
		ids[i] = p.ID
	}

	return ids
}

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("save and find by id", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		incomplete := NewPublication("listener-a", 0)
		completed := Completed("listener-b", time.Second, 2*time.Second)

		require.NoError(t, s.Save(ctx, incomplete))
		require.NoError(t, s.Save(ctx, completed))

		got, err := s.FindByID(ctx, incomplete.ID)
		require.NoError(t, err)
		AssertPublication(t, incomplete, got)

		got, err = s.FindByID(ctx, completed.ID)
		require.NoError(t, err)
		AssertPublication(t, completed, got)
	})

	t.Run("find missing id", func(t *testing.T) {
		_, err := newStore(t).FindByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		p := NewPublication("listener-a", 0)
		require.NoError(t, s.Save(ctx, p))

		p.MarkCompleted(At(time.Minute))
		require.NoError(t, s.Save(ctx, p))

		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		AssertPublication(t, p, got)

		n, err := s.Count(ctx, store.NewQuery())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		p := NewPublication("listener-a", 0)
		require.NoError(t, s.Save(ctx, p))
		require.NoError(t, s.DeleteByID(ctx, p.ID))
		require.NoError(t, s.DeleteByID(ctx, p.ID))
		require.NoError(t, s.DeleteByID(ctx, uuid.New()))

		_, err := s.FindByID(ctx, p.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("find all with limit", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for i := range 4 {
			require.NoError(t, s.Save(ctx, NewPublication("listener-a", time.Duration(i)*time.Second)))
		}

		all, err := s.FindAll(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		one, err := s.FindAll(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, one, 1)
	})

	t.Run("query", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		late := NewPublication("listener-a", 3*time.Second)
		early := NewPublication("listener-a", time.Second)
		other := NewPublication("listener-b", 2*time.Second)
		done := Completed("listener-a", 0, 5*time.Second)
		doneLater := Completed("listener-b", 4*time.Second, 10*time.Second)

		for _, p := range []*model.Publication{late, early, other, done, doneLater} {
			require.NoError(t, s.Save(ctx, p))
		}

		tests := []struct {
			name  string
			query store.Query
			want  []uuid.UUID
		}{
			{
				name:  "incomplete ordered",
				query: store.NewQuery(store.IsNull(model.FieldCompletionDate)).OrderedBy(model.FieldPublicationDate),
				want:  []uuid.UUID{early.ID, other.ID, late.ID},
			},
			{
				name:  "completed ordered",
				query: store.NewQuery(store.NotNull(model.FieldCompletionDate)).OrderedBy(model.FieldPublicationDate),
				want:  []uuid.UUID{done.ID, doneLater.ID},
			},
			{
				name: "incomplete before cutoff",
				query: store.NewQuery(
					store.IsNull(model.FieldCompletionDate),
					store.Before(model.FieldPublicationDate, At(2*time.Second)),
				).OrderedBy(model.FieldPublicationDate),
				want: []uuid.UUID{early.ID},
			},
			{
				name: "completed before cutoff is strict",
				query: store.NewQuery(
					store.NotNull(model.FieldCompletionDate),
					store.Before(model.FieldCompletionDate, At(10*time.Second)),
				),
				want: []uuid.UUID{done.ID},
			},
			{
				name: "by listener",
				query: store.NewQuery(
					store.IsNull(model.FieldCompletionDate),
					store.Equal(model.FieldListenerID, "listener-a"),
				).OrderedBy(model.FieldPublicationDate),
				want: []uuid.UUID{early.ID, late.ID},
			},
			{
				name: "no match",
				query: store.NewQuery(
					store.Equal(model.FieldListenerID, "nobody"),
				),
				want: []uuid.UUID{},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.query)
				require.NoError(t, err)
				assert.Equal(t, tt.want, IDs(store.Apply(tt.query, got)))

				n, err := s.Count(ctx, tt.query)
				require.NoError(t, err)
				assert.Equal(t, len(tt.want), n)
			})
		}
	})

	t.Run("transaction commits", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		p := NewPublication("listener-a", 0)
		gone := NewPublication("listener-a", time.Second)
		require.NoError(t, s.Save(ctx, p))
		require.NoError(t, s.Save(ctx, gone))

		err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			rec, err := tx.FindByID(ctx, p.ID)
			if err != nil {
				return err
			}

			rec.MarkCompleted(At(time.Hour))
			if err := tx.Save(ctx, rec); err != nil {
				return err
			}

			return tx.DeleteByID(ctx, gone.ID)
		})
		require.NoError(t, err)

		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got.CompletionDate)
		assert.True(t, At(time.Hour).Equal(*got.CompletionDate))

		_, err = s.FindByID(ctx, gone.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		p := NewPublication("listener-a", 0)
		require.NoError(t, s.Save(ctx, p))

		boom := errors.New("boom")
		err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			rec, err := tx.FindByID(ctx, p.ID)
			if err != nil {
				return err
			}

			rec.MarkCompleted(At(time.Hour))
			if err := tx.Save(ctx, rec); err != nil {
				return err
			}

			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CompletionDate)
	})

	t.Run("transaction sees missing record", func(t *testing.T) {
		err := newStore(t).WithTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.FindByID(ctx, uuid.New())
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
