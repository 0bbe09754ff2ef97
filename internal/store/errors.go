package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no learning state has been saved yet.
var ErrNotFound = errors.New("learning state not found")

// TransportError reports a failed round trip to a remote store.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConflictError reports a write rejected because the remote copy changed
// since it was read.
type ConflictError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s (status %d): %s", e.Path, e.StatusCode, e.Message)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
