// Package errors defines the error taxonomy shared by every component:
// a small set of sentinel kinds, a wrap chain back to the underlying
// cause, and structured fields for logging.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the taxonomy's fixed buckets.
// Callers branch on Kind, never on message text.
type Kind string

const (
	KindIntegrityError        Kind = "integrity_error"
	KindInsufficientData      Kind = "insufficient_data"
	KindTransientStorageError Kind = "transient_storage_error"
	KindTrainingFailure       Kind = "training_failure"
	KindRegistryConflict      Kind = "registry_conflict"
	KindInvariantViolation    Kind = "invariant_violation"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
)

// Error is the concrete error type produced across the service. It
// carries a Kind for programmatic branching, a human message, optional
// structured fields for logging, and a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errors.NotFound) works regardless of message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// clone returns a copy so builder methods never mutate a shared sentinel.
func (e *Error) clone() *Error {
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Fields: fields, cause: e.cause}
}

// Reason returns a copy of e with Message replaced.
func (e *Error) Reason(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

// Explain is an alias for Reason kept for readability at call sites that
// are adding detail rather than stating a top-level cause.
func (e *Error) Explain(message string) *Error {
	return e.Reason(message)
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	c := e.clone()
	c.cause = cause
	return c
}

// WithFields returns a copy of e with the given structured fields merged
// in, for attaching ids (run_id, model_name, version) before logging.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	c := e.clone()
	for k, v := range fields {
		c.Fields[k] = v
	}
	return c
}

// New constructs a fresh sentinel of the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Fields: map[string]interface{}{}}
}

// Sentinel values for the taxonomy, built with New and copied via the
// fluent builders before being returned from a call site.
var (
	IntegrityError        = New(KindIntegrityError, "integrity error")
	InsufficientData      = New(KindInsufficientData, "insufficient data")
	TransientStorageError = New(KindTransientStorageError, "transient storage error")
	TrainingFailure       = New(KindTrainingFailure, "training failure")
	RegistryConflict      = New(KindRegistryConflict, "registry conflict")
	InvariantViolation    = New(KindInvariantViolation, "invariant violation")
	NotFound              = New(KindNotFound, "not found")
	Conflict              = New(KindConflict, "conflict")
)

// Is re-exports the standard library's errors.Is so callers only need to
// import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports the standard library's errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
