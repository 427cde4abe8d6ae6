package ledger

import (
	"context"
	"errors"
	"fmt"

	"fx-ledger/pkg/db"
)

var (
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced trade does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict means the unit lost a lock race or timed out; retry it.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrIntegrity wraps unexpected store failures. The unit was rolled back.
	ErrIntegrity = errors.New("integrity failure")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// classifyStoreError maps an error leaving a unit of work onto the ledger taxonomy.
func classifyStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, context.Canceled):
		return err
	case db.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	default:
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
}

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "error"
	}
}
