package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("engine is closed")

	// ErrInvalidArgument is returned for malformed inputs (empty
	// modality, empty vector, empty metadata key).
	ErrInvalidArgument = errors.New("invalid argument")
)

// SchemaViolationError is returned when a vector's dimensionality does
// not match the dimensionality already bound to its modality.
type SchemaViolationError struct {
	Modality string
	Want     int
	Got      int
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: modality %q is bound to dimension %d, got %d", e.Modality, e.Want, e.Got)
}

// StorageError wraps a failure in the durability layer (WAL or
// snapshot I/O). The in-memory state is unchanged when it is returned.
type StorageError struct {
	Op    string
	cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.cause)
}

func (e *StorageError) Unwrap() error { return e.cause }
