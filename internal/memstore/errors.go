package memstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the id is absent or archived.
	ErrNotFound = errors.New("memory not found")

	// ErrConflict means a memory already exists at the target id.
	ErrConflict = errors.New("memory already exists")

	// ErrInvalidInput covers malformed names, unknown types and bad metadata.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPinned means the memory is pinned and cannot be archived.
	ErrPinned = errors.New("memory is pinned")
)

// OpError wraps a store failure with the operation and memory id involved.
// Use errors.Is against the sentinels above to classify it.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("memstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("memstore: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}
