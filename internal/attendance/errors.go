package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOffline is wrapped in a PersistenceError when the store cannot be
// reached and no outbox is configured.
var ErrOffline = errors.New("store unreachable")

// DuplicateSessionError means a session for the subject and date already
// exists. Retrying with the same key cannot succeed.
type DuplicateSessionError struct {
	Key string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("attendance already marked for session %s", e.Key)
}

// FieldError is a single invalid input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError rejects malformed input before any store call.
type ValidationError struct {
	Fields []FieldError
}

func newValidationError(flds ...FieldError) *ValidationError {
	return &ValidationError{Fields: flds}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// PersistenceError wraps a store failure for one session key.
type PersistenceError struct {
	Key string
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NoSessionsFoundError is returned when a report has no history to render.
type NoSessionsFoundError struct {
	SubjectCode string
}

func (e *NoSessionsFoundError) Error() string {
	return fmt.Sprintf("no attendance sessions found for %s", e.SubjectCode)
}

// PartialDirectoryDataError reports a directory field replaced by a default.
// It is surfaced to the Observer, never returned from an operation.
type PartialDirectoryDataError struct {
	StudentID string
	Field     string
	Default   string
}

func (e *PartialDirectoryDataError) Error() string {
	return fmt.Sprintf("student %s: missing %s, using %q", e.StudentID, e.Field, e.Default)
}

// MalformedRecordError describes a stored record skipped while reading history.
type MalformedRecordError struct {
	SessionKey string
	StudentID  string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("session %s, student %s: %s", e.SessionKey, e.StudentID, e.Reason)
}
