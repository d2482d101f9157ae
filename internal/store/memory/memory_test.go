package memory_test

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
	"github.com/jnst/event-publication-outbox/internal/store/memory"
	"github.com/jnst/event-publication-outbox/internal/store/storetest"
)

func TestStoreImpl_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.NewStoreImpl()
	p := model.NewPublication(uuid.New(), time.Now(), "listener", "{}", "example.Event")

	require.NoError(t, s.Save(ctx, p))

	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got.ListenerID = "mutated"
	again, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "listener", again.ListenerID)

	n, err := s.Count(ctx, store.NewQuery(store.IsNull(model.FieldCompletionDate)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteByID(ctx, p.ID))
	require.NoError(t, s.DeleteByID(ctx, p.ID))

	_, err = s.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreImpl_FindAllLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.NewStoreImpl()

	for range 5 {
		require.NoError(t, s.Save(ctx, model.NewPublication(uuid.New(), time.Now(), "l", "{}", "t")))
	}

	all, err := s.FindAll(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	some, err := s.FindAll(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestStoreImpl_TransactionCommitAndRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.NewStoreImpl()
	p := model.NewPublication(uuid.New(), time.Now(), "listener", "{}", "example.Event")
	require.NoError(t, s.Save(ctx, p))

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.FindByID(ctx, p.ID)
		if err != nil {
			return err
		}

		rec.MarkCompleted(time.Now())
		if err := tx.Save(ctx, rec); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsCompleted())

	completedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	err = s.WithTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		rec, err := tx.FindByID(ctx, p.ID)
		if err != nil {
			return err
		}

		rec.MarkCompleted(completedAt)

		return tx.Save(ctx, rec)
	})
	require.NoError(t, err)

	got, err = s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.IsCompleted())
	assert.Equal(t, completedAt, *got.CompletionDate)
}

func TestStoreImpl_Conformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(*testing.T) store.Store {
		return memory.NewStoreImpl()
	})
}
