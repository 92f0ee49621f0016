package nexus

import (
	"errors"
	"fmt"

	"github.com/vectorvault/nexus/correlate"
	"github.com/vectorvault/nexus/engine"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed inputs (top_k < 1,
	// empty modality, empty metadata key, malformed filters).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyScope is returned when a correlation scope selects zero
	// records in total. A theme that never occurs is not an error; it
	// yields a result with score 0.
	ErrEmptyScope = errors.New("empty scope")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStorageUnavailable wraps transient I/O failures in the
	// durability layer. This is the only error kind where a caller
	// retry is meaningful; the store itself never retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// SchemaViolationError indicates a vector whose dimensionality disagrees
// with the dimension already bound to its modality.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type SchemaViolationError struct {
	Modality string
	Want     int
	Got      int
	cause    error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: modality %q is bound to dimension %d, got %d", e.Modality, e.Want, e.Got)
}

func (e *SchemaViolationError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, engine.ErrInvalidArgument) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrStoreClosed, err)
	}
	if errors.Is(err, correlate.ErrEmptyScope) {
		return fmt.Errorf("%w: %w", ErrEmptyScope, err)
	}

	var sv *engine.SchemaViolationError
	if errors.As(err, &sv) {
		return &SchemaViolationError{Modality: sv.Modality, Want: sv.Want, Got: sv.Got, cause: err}
	}

	var se *engine.StorageError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return err
}
