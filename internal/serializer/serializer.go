// Package serializer converts events to and from their stored textual form.
package serializer

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// EventSerializer converts events to text and back. Serialize must be deterministic:
// by-value completion matches on the serialized form.
type EventSerializer interface {
	Serialize(event any) (string, error)
	Deserialize(data, eventType string) (any, error)
	TypeName(event any) string
}

// JSONSerializerImpl implements EventSerializer with JSON and a type Registry.
type JSONSerializerImpl struct {
	registry *Registry
}

// NewJSONSerializerImpl creates a new EventSerializer backed by registry.
func NewJSONSerializerImpl(registry *Registry) EventSerializer {
	return &JSONSerializerImpl{registry: registry}
}

// Serialize encodes event as JSON. Map keys are emitted in sorted order.
func (*JSONSerializerImpl) Serialize(event any) (string, error) {
	if event == nil {
		return "", fmt.Errorf("%w: nil event", model.ErrSerialization)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrSerialization, err)
	}

	return string(data), nil
}

// Deserialize decodes data with the decoder registered for eventType.
func (s *JSONSerializerImpl) Deserialize(data, eventType string) (any, error) {
	decode, err := s.registry.Lookup(eventType)
	if err != nil {
		return nil, err
	}

	event, err := decode(data)
	if err != nil {
		if errors.Is(err, model.ErrSerialization) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %s: %w", model.ErrSerialization, eventType, err)
	}

	return event, nil
}

// TypeName returns the registry name for event.
func (*JSONSerializerImpl) TypeName(event any) string {
	return TypeName(event)
}
