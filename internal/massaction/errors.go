package massaction

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidItemType is returned when the host does not know an item type.
var ErrInvalidItemType = errors.New("invalid item type")

// ActionsUnavailableError means the host refused to list actions for a
// known item type.
type ActionsUnavailableError struct {
	ItemType string
}

func (e *ActionsUnavailableError) Error() string {
	return "Cannot retrieve actions for this item type"
}

// SubformFetchError is returned when the host answers a subform request
// with a non-success status.
type SubformFetchError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *SubformFetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetching action subform: %v", e.Cause)
	}
	return fmt.Sprintf("fetching action subform: unexpected status %d", e.StatusCode)
}

func (e *SubformFetchError) Unwrap() error { return e.Cause }

// SchemaDerivationError is returned when a subform was fetched but no field
// schema could be derived from it.
type SchemaDerivationError struct {
	Cause error
}

func (e *SchemaDerivationError) Error() string {
	return fmt.Sprintf("deriving action parameters: %v", e.Cause)
}

func (e *SchemaDerivationError) Unwrap() error { return e.Cause }

// ValidationError lists required fields that have no value.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// ChunkProcessingError records a chunk that exhausted its retries.
type ChunkProcessingError struct {
	Chunk    int
	Attempts int
	Cause    error
}

func (e *ChunkProcessingError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.Chunk, e.Attempts, e.Cause)
}

func (e *ChunkProcessingError) Unwrap() error { return e.Cause }

// EngineError carries a message raised by the host's processing engine.
// The message is passed through verbatim.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string { return e.Message }

// IsPermanent reports whether retrying the operation that returned err
// cannot succeed.
func IsPermanent(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr) || errors.Is(err, ErrInvalidItemType)
}
