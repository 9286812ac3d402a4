// Package errors defines the engine's failure taxonomy. Validation failures
// skip a single event; schema failures indicate a handler defect; environment
// failures mean an external dependency could not answer.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ValidationError is an expected business-rule violation: missing entity,
// signer mismatch, malformed metadata, exceeded quota. It aborts only the
// event that raised it.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Reason, e.Err)
	}
	return "validation: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// WrapValidation attaches a cause to a validation failure.
func WrapValidation(reason string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Err: err}
}

// SchemaError reports a constructed record that failed its completeness
// check immediately before entering the pool. Unlike a ValidationError it
// points at a handler defect rather than bad input.
type SchemaError struct {
	Kind  string
	Key   string
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s %q missing %s", e.Kind, e.Key, e.Field)
}

// EnvironmentError reports a cache, registry, or storage lookup that could
// not complete. The dependent event fails validation rather than guessing a
// default.
type EnvironmentError struct {
	Op  string
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment: %s: %v", e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// Environment wraps a dependency failure.
func Environment(op string, err error) *EnvironmentError {
	return &EnvironmentError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// IsSchema reports whether err is (or wraps) a SchemaError.
func IsSchema(err error) bool {
	var se *SchemaError
	return stderrors.As(err, &se)
}

// IsEnvironment reports whether err is (or wraps) an EnvironmentError.
func IsEnvironment(err error) bool {
	var ee *EnvironmentError
	return stderrors.As(err, &ee)
}
