package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

func TestBuildWhere(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		query    store.Query
		wantSQL  string
		wantArgs []any
		wantErr  bool
	}{
		{
			name:  "no predicates",
			query: store.NewQuery(),
		},
		{
			name: "incomplete for listener before cutoff",
			query: store.NewQuery(
				store.IsNull(model.FieldCompletionDate),
				store.Equal(model.FieldListenerID, "listener"),
				store.Before(model.FieldPublicationDate, cutoff),
			),
			wantSQL:  " WHERE completion_date IS NULL AND listener_id = $1 AND publication_date < $2",
			wantArgs: []any{"listener", cutoff},
		},
		{
			name:    "completed",
			query:   store.NewQuery(store.NotNull(model.FieldCompletionDate)),
			wantSQL: " WHERE completion_date IS NOT NULL",
		},
		{
			name:    "unknown field",
			query:   store.NewQuery(store.IsNull("payload")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sql, args, err := buildWhere(tt.query)
			if tt.wantErr {
				require.ErrorIs(t, err, errUnknownField)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)

			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestIndexDDL(t *testing.T) {
	t.Parallel()

	s := &StoreImpl{table: DefaultTable, ident: `"event_publication"`}

	sql, err := s.indexDDL(store.IndexDefinition{
		Kind: model.Kind,
		Properties: []store.IndexProperty{
			{Name: model.FieldCompletionDate, Direction: "asc"},
			{Name: model.FieldPublicationDate, Direction: "desc"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "idx_event_publication_completion_date_publication_date" `+
			`ON "event_publication" (completion_date ASC, publication_date DESC)`,
		sql)

	_, err = s.indexDDL(store.IndexDefinition{Kind: model.Kind})
	require.Error(t, err)

	_, err = s.indexDDL(store.IndexDefinition{Kind: model.Kind, Properties: []store.IndexProperty{{Name: "nope"}}})
	require.ErrorIs(t, err, errUnknownField)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.NoError(t, classify("save", nil))

	err := classify("save", &pgconn.PgError{Code: codeSerializationFailure})
	assert.ErrorIs(t, err, model.ErrContention)

	err = classify("save", &pgconn.PgError{Code: codeDeadlockDetected})
	assert.ErrorIs(t, err, model.ErrContention)

	err = classify("save", &pgconn.PgError{Code: "42501"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	err = classify("save", errors.New("connection refused"))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	var storeErr *model.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "save", storeErr.Op)
}

func TestNewStoreImpl_DefaultTable(t *testing.T) {
	t.Parallel()

	s := NewStoreImpl(nil, "")
	assert.Equal(t, DefaultTable, s.table)
	assert.Equal(t, `"event_publication"`, s.ident)
}
