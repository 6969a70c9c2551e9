package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrInsufficientStock signals a feasibility failure during approval.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition signals an illegal approval, delivery or refund change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound signals that the referenced order or product is absent.
	ErrNotFound = errors.New("not found")
	// ErrStorage signals a record store or blob store failure.
	ErrStorage = errors.New("storage error")
	// ErrConcurrencyConflict signals that a conditional update predicate failed.
	// Callers should refetch and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// InsufficientStockError names the first product that failed the feasibility check.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	Field  string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition: %s cannot go from '%s' to '%s'", e.Field, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorKind returns the taxonomy name of err, used in batch skip reasons and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInsufficientStock):
		return "InsufficientStock"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, ErrStorage):
		return "StorageError"
	default:
		return "InternalError"
	}
}

// StorageFailure wraps a raw store error so that it matches ErrStorage.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
