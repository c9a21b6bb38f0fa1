// Package errs defines the error taxonomy shared by the stores and the
// invocation wrapper: validation failures, storage failures, and model
// invocation failures.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing caller input. Operations
// that return it have not touched the database.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps an I/O or transaction failure. The operation that
// returned it had no effect.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for op. Returns nil for a nil err.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ModelInvocationError is a provider failure surfaced by the model
// invocation layer.
type ModelInvocationError struct {
	Model string
	Err   error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Model, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsModelInvocation reports whether err is or wraps a ModelInvocationError.
func IsModelInvocation(err error) bool {
	var me *ModelInvocationError
	return errors.As(err, &me)
}

// Kind returns a short name for the error's class, used when recording
// errors in run metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "ValidationError"
	case IsStorage(err):
		return "StorageError"
	case IsModelInvocation(err):
		return "ModelInvocationError"
	default:
		return fmt.Sprintf("%T", err)
	}
}
