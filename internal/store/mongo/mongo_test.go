package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

func TestBuildFilter(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	filter, err := buildFilter(store.NewQuery(
		store.IsNull(model.FieldCompletionDate),
		store.Equal(model.FieldListenerID, "listener"),
		store.Before(model.FieldPublicationDate, cutoff),
		store.NotNull(model.FieldEventType),
	))
	require.NoError(t, err)

	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "completionDate", Value: nil}},
		bson.D{{Key: "listenerId", Value: "listener"}},
		bson.D{{Key: "publicationDate", Value: bson.D{{Key: "$lt", Value: cutoff}}}},
		bson.D{{Key: "eventType", Value: bson.D{{Key: "$ne", Value: nil}}}},
	}}}
	assert.Equal(t, want, filter)

	empty, err := buildFilter(store.NewQuery())
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, empty)

	_, err = buildFilter(store.NewQuery(store.IsNull("payload")))
	assert.ErrorIs(t, err, errUnknownField)
}

func TestBuildFilter_IDMapsToPrimaryKey(t *testing.T) {
	t.Parallel()

	filter, err := buildFilter(store.NewQuery(store.Equal(model.FieldID, "abc")))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "_id", Value: "abc"}}}}}, filter)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "write conflict",
			err:  mongo.CommandError{Code: codeWriteConflict, Message: "WriteConflict"},
			want: model.ErrContention,
		},
		{
			name: "transient transaction",
			err:  mongo.CommandError{Code: 251, Labels: []string{labelTransientTransaction}},
			want: model.ErrContention,
		},
		{
			name: "unknown commit result",
			err:  mongo.CommandError{Code: 50, Labels: []string{labelUnknownTransactionCommit}},
			want: model.ErrTransactionApply,
		},
		{
			name: "unauthorized",
			err:  mongo.CommandError{Code: 13, Message: "not authorized"},
			want: model.ErrStoreUnavailable,
		},
		{
			name: "network",
			err:  errors.New("connection refused"),
			want: model.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.ErrorIs(t, classify("save", tt.err), tt.want)
		})
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	p := model.NewPublication([16]byte{1}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "l", "{}", "t")
	p.MarkCompleted(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	got, err := toDocument(p).publication()
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = document{ID: "not-a-uuid"}.publication()
	assert.Error(t, err)
}
