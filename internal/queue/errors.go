package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueNotFound indicates the referenced queue does not exist.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrInvalidReference indicates the owning ticket or task does not exist.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrNotInProgress indicates a completion or failure on an item that is not claimed.
	ErrNotInProgress = errors.New("item not in progress")
	// ErrItemInProgress indicates an enqueue targeted an owner whose item is claimed.
	ErrItemInProgress = errors.New("item already in progress")
	// ErrInvalidTransition indicates the item's current status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput indicates malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence indicates a storage or transaction failure. No partial effect
	// was committed, so callers may retry.
	ErrPersistence = errors.New("persistence error")
)

// persistenceError tags a storage failure for classification while keeping the
// underlying driver error in the chain.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// IsClientError reports whether err stems from invalid caller input rather than
// a storage failure.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrQueueNotFound),
		errors.Is(err, ErrInvalidReference),
		errors.Is(err, ErrNotInProgress),
		errors.Is(err, ErrItemInProgress),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidInput):
		return true
	default:
		return false
	}
}
