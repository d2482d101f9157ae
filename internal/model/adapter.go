package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PublicationAdapter exposes a stored Publication together with its decoded event.
// It is built on read and never persisted.
type PublicationAdapter struct {
	publication *Publication
	decode      func() (any, error)

	once  sync.Once
	event any
	err   error
}

// NewPublicationAdapter wraps publication; decode is invoked at most once, on first access to the event.
func NewPublicationAdapter(publication *Publication, decode func() (any, error)) *PublicationAdapter {
	return &PublicationAdapter{
		publication: publication.Clone(),
		decode:      decode,
	}
}

// Identifier returns the publication id.
func (a *PublicationAdapter) Identifier() uuid.UUID {
	return a.publication.ID
}

// TargetIdentifier returns the listener the event is delivered to.
func (a *PublicationAdapter) TargetIdentifier() string {
	return a.publication.ListenerID
}

// EventType returns the registered type name of the event.
func (a *PublicationAdapter) EventType() string {
	return a.publication.EventType
}

// PublicationDate returns when the publication was recorded.
func (a *PublicationAdapter) PublicationDate() time.Time {
	return a.publication.PublicationDate
}

// CompletionDate returns the completion date and whether it is set.
func (a *PublicationAdapter) CompletionDate() (time.Time, bool) {
	if a.publication.CompletionDate == nil {
		return time.Time{}, false
	}

	return *a.publication.CompletionDate, true
}

// IsCompleted reports whether the publication has been completed.
func (a *PublicationAdapter) IsCompleted() bool {
	return a.publication.IsCompleted()
}

// Event returns the deserialized event.
func (a *PublicationAdapter) Event() (any, error) {
	a.once.Do(func() {
		a.event, a.err = a.decode()
	})

	return a.event, a.err
}

// Publication returns a copy of the wrapped record.
func (a *PublicationAdapter) Publication() *Publication {
	return a.publication.Clone()
}

// Equal reports whether both adapters wrap the same publication id.
func (a *PublicationAdapter) Equal(other *PublicationAdapter) bool {
	if a == nil || other == nil {
		return a == other
	}

	return a.publication.ID == other.publication.ID
}
