// Package errs defines the error taxonomy shared by the local store,
// the reconciler, the auth boundary and the HTTP layer.
package errs

import (
	"errors"
	"sort"
	"strings"
)

// Common errors returned across TaskSimple.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, errs.ErrSyncUnavailable) {
//	    // keep working from the local copy
//	}
var (
	// ErrValidation is returned when input is malformed. The concrete
	// error is usually a *ValidationError carrying per-field messages.
	ErrValidation = errors.New("validation failed")

	// ErrAuth is returned for bad credentials and for a missing or
	// invalid session. Both cases look the same to the caller so that
	// account existence does not leak.
	ErrAuth = errors.New("invalid email or password")

	// ErrNotFound is returned when an entity is missing or is not owned
	// by the caller. The two cases are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the local database cannot be
	// opened or written (permissions, disk full, read-only media).
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrSyncUnavailable is returned when the server cannot be reached
	// during push, pull or reconciliation.
	ErrSyncUnavailable = errors.New("sync unavailable")
)

// ValidationError carries human-readable messages keyed by field name.
// Messages for a field keep the order in which they were added.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends a message for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no messages were added.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns e if it has messages, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], "; "))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrValidation) match a *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FieldError is a shorthand for a ValidationError with a single message.
func FieldError(field, msg string) *ValidationError {
	v := NewValidationError()
	v.Add(field, msg)
	return v
}

// FieldErrors extracts per-field messages from err.
// Returns nil if err is not a validation error.
func FieldErrors(err error) map[string][]string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Fields
	}
	return nil
}

// IsOffline returns true if err means the server could not be reached.
func IsOffline(err error) bool {
	return err != nil && errors.Is(err, ErrSyncUnavailable)
}

// IsRetryable returns true if the operation is likely to succeed on retry.
// Only connectivity failures qualify; validation, auth and not-found
// outcomes are final for a given change.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSyncUnavailable)
}

// IsFatal returns true if the error leaves the client unable to continue
// without user action (sign in again).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAuth)
}
