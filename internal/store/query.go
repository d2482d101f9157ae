package store

import (
	"slices"
	"time"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// Operator is a predicate comparison.
type Operator int

const (
	// OpEqual matches a string field equal to the value.
	OpEqual Operator = iota
	// OpIsNull matches an absent field.
	OpIsNull
	// OpNotNull matches a present field.
	OpNotNull
	// OpBefore matches a time field strictly before the value.
	OpBefore
)

// Predicate is one condition of a Query.
type Predicate struct {
	Field string
	Op    Operator
	Value any
}

// Equal matches records whose field equals value.
func Equal(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEqual, Value: value}
}

// IsNull matches records without the field.
func IsNull(field string) Predicate {
	return Predicate{Field: field, Op: OpIsNull}
}

// NotNull matches records with the field set.
func NotNull(field string) Predicate {
	return Predicate{Field: field, Op: OpNotNull}
}

// Before matches records whose time field is strictly before t.
func Before(field string, t time.Time) Predicate {
	return Predicate{Field: field, Op: OpBefore, Value: t}
}

// Query is an AND of predicates with an optional ascending sort field.
type Query struct {
	Predicates []Predicate
	OrderBy    string
}

// NewQuery builds a query over the given predicates.
func NewQuery(predicates ...Predicate) Query {
	return Query{Predicates: predicates}
}

// OrderedBy returns a copy sorted ascending by field.
func (q Query) OrderedBy(field string) Query {
	q.OrderBy = field
	return q
}

// Matches reports whether p satisfies every predicate.
func (q Query) Matches(p *model.Publication) bool {
	for _, pred := range q.Predicates {
		if !pred.matches(p) {
			return false
		}
	}

	return true
}

func (pred Predicate) matches(p *model.Publication) bool {
	value, present := fieldValue(p, pred.Field)

	switch pred.Op {
	case OpIsNull:
		return !present
	case OpNotNull:
		return present
	case OpEqual:
		s, ok := value.(string)
		return present && ok && s == pred.Value
	case OpBefore:
		t, ok := value.(time.Time)
		cutoff, cok := pred.Value.(time.Time)
		return present && ok && cok && t.Before(cutoff)
	default:
		return false
	}
}

// Apply filters and orders records locally. It is idempotent, so it is safe to run on
// results a backend already filtered.
func Apply(q Query, records []*model.Publication) []*model.Publication {
	out := make([]*model.Publication, 0, len(records))
	for _, p := range records {
		if q.Matches(p) {
			out = append(out, p)
		}
	}

	if q.OrderBy != "" {
		slices.SortStableFunc(out, func(a, b *model.Publication) int {
			return compareField(a, b, q.OrderBy)
		})
	}

	return out
}

func compareField(a, b *model.Publication, field string) int {
	av, aok := fieldValue(a, field)
	bv, bok := fieldValue(b, field)

	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}

	switch x := av.(type) {
	case time.Time:
		return x.Compare(bv.(time.Time))
	case string:
		y := bv.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}

	return 0
}

func fieldValue(p *model.Publication, field string) (any, bool) {
	switch field {
	case model.FieldID:
		return p.ID.String(), true
	case model.FieldPublicationDate:
		return p.PublicationDate, true
	case model.FieldListenerID:
		return p.ListenerID, true
	case model.FieldSerializedEvent:
		return p.SerializedEvent, true
	case model.FieldEventType:
		return p.EventType, true
	case model.FieldCompletionDate:
		if p.CompletionDate == nil {
			return nil, false
		}

		return *p.CompletionDate, true
	default:
		return nil, false
	}
}
