package capture

import (
	"errors"
	"fmt"
)

// RecordError represents an error detected on the capture path.
//
// Record errors include:
//   - Unknown call: completion or line event for an id never issued
//   - Queue full: the write queue refused an event rather than block
//   - No active session: call capture attempted outside a session
//   - Session active: a second session started before the first ended
//   - Repository closed: capture attempted after Close
//
// RecordError includes structured fields for diagnostics; hooks log
// these and keep the monitored program running.
type RecordError struct {
	// Code identifies the error category.
	Code RecordErrorCode

	// Message is a human-readable description.
	Message string

	// CallID identifies the affected call, when known.
	CallID string

	// Function identifies the monitored function, when known.
	Function string

	// Details contains additional context.
	Details map[string]string
}

// RecordErrorCode categorizes capture errors.
type RecordErrorCode string

const (
	// ErrCodeUnknownCall indicates an event referenced an id that was
	// never issued and does not exist in the store.
	ErrCodeUnknownCall RecordErrorCode = "UNKNOWN_CALL"

	// ErrCodeQueueFull indicates the bounded write queue refused the
	// event; the data is dropped, the program is never blocked.
	ErrCodeQueueFull RecordErrorCode = "QUEUE_FULL"

	// ErrCodeNoSession indicates call capture was attempted with no
	// active recording session.
	ErrCodeNoSession RecordErrorCode = "NO_ACTIVE_SESSION"

	// ErrCodeSessionActive indicates StartSession was called while a
	// session was already recording.
	ErrCodeSessionActive RecordErrorCode = "SESSION_ACTIVE"

	// ErrCodeClosed indicates the repository was closed.
	ErrCodeClosed RecordErrorCode = "REPOSITORY_CLOSED"
)

// Error implements the error interface.
func (e *RecordError) Error() string {
	if e.CallID != "" && e.Function != "" {
		return fmt.Sprintf("%s: %s (call=%s, function=%s)", e.Code, e.Message, e.CallID, e.Function)
	}
	if e.CallID != "" {
		return fmt.Sprintf("%s: %s (call=%s)", e.Code, e.Message, e.CallID)
	}
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (function=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownCallError returns true if the error is an unknown call error.
// Uses errors.As to handle wrapped errors.
func IsUnknownCallError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownCall
	}
	return false
}

// IsQueueFullError returns true if the error is a queue full error.
// Uses errors.As to handle wrapped errors.
func IsQueueFullError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQueueFull
	}
	return false
}

// IsNoSessionError returns true if the error reports a missing session.
func IsNoSessionError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNoSession
	}
	return false
}

// IsSessionActiveError returns true if the error reports a session that
// is already recording.
func IsSessionActiveError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSessionActive
	}
	return false
}

// IsClosedError returns true if the error reports a closed repository.
func IsClosedError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == ErrCodeClosed
	}
	return false
}

// NewUnknownCallError creates a RecordError for an unmatched call id.
func NewUnknownCallError(callID string) *RecordError {
	return &RecordError{
		Code:    ErrCodeUnknownCall,
		Message: "call id was never issued",
		CallID:  callID,
	}
}

// NewQueueFullError creates a RecordError for a refused event.
func NewQueueFullError(function string) *RecordError {
	return &RecordError{
		Code:     ErrCodeQueueFull,
		Message:  "write queue is full, event dropped",
		Function: function,
	}
}

// NewNoSessionError creates a RecordError for capture outside a session.
func NewNoSessionError() *RecordError {
	return &RecordError{
		Code:    ErrCodeNoSession,
		Message: "no active recording session",
	}
}

// NewSessionActiveError creates a RecordError for a conflicting session
// start.
func NewSessionActiveError(name string) *RecordError {
	return &RecordError{
		Code:    ErrCodeSessionActive,
		Message: "a session is already recording, end it first",
		Details: map[string]string{"active_session": name},
	}
}

// NewClosedError creates a RecordError for use after Close.
func NewClosedError() *RecordError {
	return &RecordError{
		Code:    ErrCodeClosed,
		Message: "repository is closed",
	}
}
