package serializer

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/goccy/go-json"

	"github.com/jnst/event-publication-outbox/internal/model"
)

// DecodeFunc turns a serialized payload back into an event value.
type DecodeFunc func(data string) (any, error)

// Registry maps event type names to decoders. It is populated at startup and
// safe for concurrent lookups afterwards.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register adds a JSON decoder for T under its fully-qualified type name and returns that name.
func Register[T any](r *Registry) string {
	var zero T
	name := TypeName(zero)
	r.RegisterFunc(name, func(data string) (any, error) {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, err
		}

		return v, nil
	})

	return name
}

// RegisterFunc adds a custom decoder under name, replacing any previous one.
func (r *Registry) RegisterFunc(name string, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decoders[name] = decode
}

// Lookup returns the decoder for name or model.ErrTypeNotRegistered.
func (r *Registry) Lookup(name string) (DecodeFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decode, ok := r.decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTypeNotRegistered, name)
	}

	return decode, nil
}

// Len returns the number of registered event types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.decoders)
}

// TypeName returns the package-qualified name of v's type, dereferencing pointers.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}
