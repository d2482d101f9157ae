package repository

import (
	"errors"
	"fmt"
	"strings"
)

// CompletionMode decides what happens to a record when its publication completes.
type CompletionMode string

const (
	// CompletionModeUpdate sets the completion date and keeps the record.
	CompletionModeUpdate CompletionMode = "update"
	// CompletionModeDelete removes the record on completion.
	CompletionModeDelete CompletionMode = "delete"
)

// ErrUnsupportedCompletionMode is returned for a completion mode other than update or delete.
var ErrUnsupportedCompletionMode = errors.New("unsupported completion mode")

// ParseCompletionMode parses a configured mode. An empty value selects CompletionModeUpdate.
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch CompletionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompletionModeUpdate:
		return CompletionModeUpdate, nil
	case CompletionModeDelete:
		return CompletionModeDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCompletionMode, s)
	}
}
