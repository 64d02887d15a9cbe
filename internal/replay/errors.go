package replay

import (
	"errors"
	"fmt"
)

// ReplayError represents a failure detected while reanimating a recorded
// call.
//
// Replay errors include:
//   - Call not found: the recorded call id does not exist in the store
//   - Target unresolvable: no registered function matches the recording
//   - Signature mismatch: recorded arguments no longer fit the function
//   - Mock target missing: a requested mock has no mockable binding
//   - Replay aborted: a call in a sequence replay failed
//
// Replay failures are never silently substituted with defaults; callers
// depend on knowing exactly what could not be reconstructed.
type ReplayError struct {
	// Code identifies the error category.
	Code ReplayErrorCode

	// Message is a human-readable description.
	Message string

	// CallID identifies the recorded call being replayed.
	CallID string

	// Function identifies the replay target, when known.
	Function string

	// Details contains additional context.
	Details map[string]string
}

// ReplayErrorCode categorizes replay errors.
type ReplayErrorCode string

const (
	// ErrCodeCallNotFound indicates the recorded call id does not exist.
	ErrCodeCallNotFound ReplayErrorCode = "CALL_NOT_FOUND"

	// ErrCodeTargetUnresolvable indicates no registered function matches
	// the recorded call.
	ErrCodeTargetUnresolvable ReplayErrorCode = "TARGET_UNRESOLVABLE"

	// ErrCodeSignatureMismatch indicates the recorded arguments don't fit
	// the current function signature.
	ErrCodeSignatureMismatch ReplayErrorCode = "SIGNATURE_MISMATCH"

	// ErrCodeMockTargetMissing indicates a requested mock has no mockable
	// binding registered.
	ErrCodeMockTargetMissing ReplayErrorCode = "MOCK_TARGET_MISSING"

	// ErrCodeReplayAborted indicates a sequence replay stopped at a
	// failing call. The partial branch is retained for inspection.
	ErrCodeReplayAborted ReplayErrorCode = "REPLAY_ABORTED"
)

// Error implements the error interface.
func (e *ReplayError) Error() string {
	if e.CallID != "" && e.Function != "" {
		return fmt.Sprintf("%s: %s (call=%s, function=%s)", e.Code, e.Message, e.CallID, e.Function)
	}
	if e.CallID != "" {
		return fmt.Sprintf("%s: %s (call=%s)", e.Code, e.Message, e.CallID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCallNotFound returns true if the error is a missing-call error.
// Uses errors.As to handle wrapped errors.
func IsCallNotFound(err error) bool {
	return hasCode(err, ErrCodeCallNotFound)
}

// IsTargetUnresolvable returns true if the error is an unresolvable-target
// error. Uses errors.As to handle wrapped errors.
func IsTargetUnresolvable(err error) bool {
	return hasCode(err, ErrCodeTargetUnresolvable)
}

// IsSignatureMismatch returns true if the error is a signature mismatch.
// Uses errors.As to handle wrapped errors.
func IsSignatureMismatch(err error) bool {
	return hasCode(err, ErrCodeSignatureMismatch)
}

// IsMockTargetMissing returns true if the error is a missing mock
// binding. Uses errors.As to handle wrapped errors.
func IsMockTargetMissing(err error) bool {
	return hasCode(err, ErrCodeMockTargetMissing)
}

// IsReplayAborted returns true if the error is an aborted sequence
// replay. Uses errors.As to handle wrapped errors.
func IsReplayAborted(err error) bool {
	return hasCode(err, ErrCodeReplayAborted)
}

func hasCode(err error, code ReplayErrorCode) bool {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewCallNotFoundError creates a ReplayError for a missing call id.
func NewCallNotFoundError(callID string) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeCallNotFound,
		Message: "recorded call not found",
		CallID:  callID,
	}
}

// NewTargetUnresolvableError creates a ReplayError for a function with no
// registration.
func NewTargetUnresolvableError(callID, function string) *ReplayError {
	return &ReplayError{
		Code:     ErrCodeTargetUnresolvable,
		Message:  "no registered function for recorded call",
		CallID:   callID,
		Function: function,
	}
}

// NewSignatureMismatchError creates a ReplayError for arguments that no
// longer fit the target signature.
func NewSignatureMismatchError(callID, function, reason string) *ReplayError {
	return &ReplayError{
		Code:     ErrCodeSignatureMismatch,
		Message:  reason,
		CallID:   callID,
		Function: function,
	}
}

// NewMockTargetMissingError creates a ReplayError for a mock name with no
// mockable binding.
func NewMockTargetMissingError(callID, mockName string) *ReplayError {
	return &ReplayError{
		Code:    ErrCodeMockTargetMissing,
		Message: fmt.Sprintf("no mockable binding for %q", mockName),
		CallID:  callID,
		Details: map[string]string{"mock": mockName},
	}
}

// NewReplayAbortedError creates a ReplayError for a sequence replay that
// stopped at a failing call. branchRootID identifies the partial branch
// retained for inspection; empty when the replay was not recording.
func NewReplayAbortedError(failedCallID, branchRootID string, cause error) *ReplayError {
	details := map[string]string{}
	if branchRootID != "" {
		details["branch_root"] = branchRootID
	}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return &ReplayError{
		Code:    ErrCodeReplayAborted,
		Message: "sequence replay stopped at failing call",
		CallID:  failedCallID,
		Details: details,
	}
}
