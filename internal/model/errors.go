package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization is returned when an event cannot be converted to or from its textual form.
	ErrSerialization = errors.New("event serialization failed")
	// ErrTypeNotRegistered is returned when an event type name has no registered decoder.
	ErrTypeNotRegistered = errors.New("event type not registered")
	// ErrContention is returned when concurrent writes conflict on the same record.
	ErrContention = errors.New("too much contention on publication records")
	// ErrTransactionApply is returned when a transactional write could not be applied consistently.
	ErrTransactionApply = errors.New("transaction could not be applied")
	// ErrStoreUnavailable is returned for any other store failure (unreachable, permission denied, ...).
	ErrStoreUnavailable = errors.New("publication store unavailable")
)

// StoreError carries the failing store operation, its error class and the driver error.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

// NewStoreError wraps err as a store failure of the given class.
func NewStoreError(op string, kind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the error class and the underlying driver error to errors.Is/As.
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
