package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jnst/event-publication-outbox/internal/model"
	"github.com/jnst/event-publication-outbox/internal/store"
)

func publication(listener string, published time.Time, completed *time.Time) *model.Publication {
	p := model.NewPublication(uuid.New(), published, listener, `{"n":1}`, "example.Event")
	p.CompletionDate = completed

	return p
}

func TestQuery_Matches(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := base.Add(time.Minute)
	incomplete := publication("a", base, nil)
	complete := publication("b", base, &done)

	tests := []struct {
		name  string
		query store.Query
		p     *model.Publication
		want  bool
	}{
		{"empty query matches", store.NewQuery(), incomplete, true},
		{"is null on incomplete", store.NewQuery(store.IsNull(model.FieldCompletionDate)), incomplete, true},
		{"is null on complete", store.NewQuery(store.IsNull(model.FieldCompletionDate)), complete, false},
		{"not null on complete", store.NewQuery(store.NotNull(model.FieldCompletionDate)), complete, true},
		{"equal listener", store.NewQuery(store.Equal(model.FieldListenerID, "a")), incomplete, true},
		{"different listener", store.NewQuery(store.Equal(model.FieldListenerID, "a")), complete, false},
		{"before is strict", store.NewQuery(store.Before(model.FieldPublicationDate, base)), incomplete, false},
		{"before later cutoff", store.NewQuery(store.Before(model.FieldPublicationDate, base.Add(time.Nanosecond))), incomplete, true},
		{"before on absent field", store.NewQuery(store.Before(model.FieldCompletionDate, base.Add(time.Hour))), incomplete, false},
		{"conjunction", store.NewQuery(
			store.NotNull(model.FieldCompletionDate),
			store.Before(model.FieldCompletionDate, done.Add(time.Second)),
			store.Equal(model.FieldListenerID, "b"),
		), complete, true},
		{"unknown field never equal", store.NewQuery(store.Equal("nope", "a")), incomplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.query.Matches(tt.p))
		})
	}
}

func TestApply_FiltersAndSortsAscending(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := base
	third := publication("a", base.Add(3*time.Second), nil)
	first := publication("a", base.Add(1*time.Second), nil)
	completed := publication("a", base, &done)
	second := publication("a", base.Add(2*time.Second), nil)

	q := store.NewQuery(store.IsNull(model.FieldCompletionDate)).OrderedBy(model.FieldPublicationDate)
	got := store.Apply(q, []*model.Publication{third, first, completed, second})

	assert.Equal(t, []*model.Publication{first, second, third}, got)
	assert.Equal(t, got, store.Apply(q, got))
}

func TestIndexDefinition_Fields(t *testing.T) {
	t.Parallel()

	def := store.IndexDefinition{
		Kind: model.Kind,
		Properties: []store.IndexProperty{
			{Name: model.FieldListenerID},
			{Name: model.FieldPublicationDate, Direction: "desc"},
		},
	}

	assert.Equal(t, []string{model.FieldListenerID, model.FieldPublicationDate}, def.Fields())
	assert.False(t, def.Properties[0].Descending())
	assert.True(t, def.Properties[1].Descending())
}
