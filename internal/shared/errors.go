package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed client input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates the requested quantity exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidStateTransition indicates an operation not allowed from the current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrAllocationExceedsRequest indicates allocations summing above the requested quantity.
	ErrAllocationExceedsRequest = errors.New("allocation exceeds request")
	// ErrInvariantViolation guards internal bookkeeping bugs.
	ErrInvariantViolation = errors.New("invariant violation")
)

// StockError carries the numbers behind an insufficient stock failure.
type StockError struct {
	InventoryID int64
	Requested   int64
	Available   int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock on inventory %d: requested %d, available %d", e.InventoryID, e.Requested, e.Available)
}

// Unwrap exposes ErrInsufficientStock to errors.Is.
func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// TransitionError reports an action attempted from a state that forbids it.
type TransitionError struct {
	Entity string
	ID     int64
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %d: cannot %s from status %s", e.Entity, e.ID, e.Action, e.From)
}

// Unwrap exposes ErrInvalidStateTransition to errors.Is.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// Validationf builds an ErrValidation wrapped error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether the caller may retry with different input.
// Only availability contention qualifies; state and client errors do not.
func Retryable(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// Kind returns a stable machine readable name for the error class.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock):
		return "InsufficientStock"
	case errors.Is(err, ErrInvalidStateTransition):
		return "InvalidStateTransition"
	case errors.Is(err, ErrAllocationExceedsRequest):
		return "AllocationExceedsRequest"
	case errors.Is(err, ErrInvariantViolation):
		return "InvariantViolation"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrValidation):
		return "Validation"
	case errors.Is(err, ErrIdempotencyConflict):
		return "IdempotencyConflict"
	default:
		return "Internal"
	}
}
