// Package model defines the event publication record and its read-side view.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the document kind publication records are stored under.
const Kind = "EventPublication"

// Document field names shared by every store backend.
const (
	FieldID              = "id"
	FieldPublicationDate = "publicationDate"
	FieldListenerID      = "listenerId"
	FieldSerializedEvent = "serializedEvent"
	FieldEventType       = "eventType"
	FieldCompletionDate  = "completionDate"
)

// Publication is the durable obligation to deliver one event to one listener.
type Publication struct {
	ID              uuid.UUID  `json:"id"`
	PublicationDate time.Time  `json:"publicationDate"`
	ListenerID      string     `json:"listenerId"`
	SerializedEvent string     `json:"serializedEvent"`
	EventType       string     `json:"eventType"`
	CompletionDate  *time.Time `json:"completionDate"`
}

// NewPublication creates an incomplete publication.
func NewPublication(
	id uuid.UUID, publicationDate time.Time, listenerID, serializedEvent, eventType string,
) *Publication {
	return &Publication{
		ID:              id,
		PublicationDate: publicationDate,
		ListenerID:      listenerID,
		SerializedEvent: serializedEvent,
		EventType:       eventType,
	}
}

// MarkCompleted sets the completion date. A later call overwrites an earlier one.
func (p *Publication) MarkCompleted(completionDate time.Time) {
	p.CompletionDate = &completionDate
}

// IsCompleted reports whether the publication has a completion date.
func (p *Publication) IsCompleted() bool {
	return p.CompletionDate != nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (p *Publication) Clone() *Publication {
	c := *p
	if p.CompletionDate != nil {
		completionDate := *p.CompletionDate
		c.CompletionDate = &completionDate
	}

	return &c
}

// PublicationCounts summarizes the store contents.
type PublicationCounts struct {
	Incomplete int `json:"incomplete"`
	Completed  int `json:"completed"`
}
