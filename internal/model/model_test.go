package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/event-publication-outbox/internal/model"
)

func TestPublication_MarkCompleted(t *testing.T) {
	t.Parallel()

	p := model.NewPublication(uuid.New(), time.Now(), "listener", "{}", "example.Event")
	assert.False(t, p.IsCompleted())

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	p.MarkCompleted(first)
	p.MarkCompleted(second)

	require.True(t, p.IsCompleted())
	assert.Equal(t, second, *p.CompletionDate)
}

func TestPublication_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	p := model.NewPublication(uuid.New(), time.Now(), "listener", "{}", "example.Event")
	p.MarkCompleted(time.Now())

	c := p.Clone()
	c.CompletionDate = nil

	assert.True(t, p.IsCompleted())
	assert.False(t, c.IsCompleted())
}

func TestPublicationAdapter_DecodesOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	p := model.NewPublication(uuid.New(), time.Now(), "listener", `"payload"`, "string")
	a := model.NewPublicationAdapter(p, func() (any, error) {
		calls++
		return "payload", nil
	})

	for range 3 {
		ev, err := a.Event()
		require.NoError(t, err)
		assert.Equal(t, "payload", ev)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, "listener", a.TargetIdentifier())
	_, completed := a.CompletionDate()
	assert.False(t, completed)
}

func TestPublicationAdapter_EqualByIdentifier(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	now := time.Now()
	decode := func() (any, error) { return nil, nil }

	a := model.NewPublicationAdapter(model.NewPublication(id, now, "a", "{}", "t"), decode)
	b := model.NewPublicationAdapter(model.NewPublication(id, now.Add(time.Second), "b", "[]", "u"), decode)
	c := model.NewPublicationAdapter(model.NewPublication(uuid.New(), now, "a", "{}", "t"), decode)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestStoreError_Unwrap(t *testing.T) {
	t.Parallel()

	driverErr := errors.New("aborted")
	err := model.NewStoreError("save", model.ErrContention, driverErr)

	assert.ErrorIs(t, err, model.ErrContention)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "save")
}
