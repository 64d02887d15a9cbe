package codec

import (
	"errors"
	"fmt"
)

// UnstorableError reports a value the value model cannot hold.
//
// Unstorable values include:
//   - Functions, channels, and unsafe pointers
//   - Map keys that are not scalars
//   - uint64 values that overflow int64
//   - Cyclic references discovered while storing
//
// Callers record the Unstorable placeholder and keep going; failing a
// whole capture over one bad local would throw away a good trace.
type UnstorableError struct {
	// TypeName is the Go type of the offending value.
	TypeName string

	// Path locates the value inside the root being stored, when known.
	Path string

	// Reason says what made the value unstorable.
	Reason string
}

// Error implements the error interface.
func (e *UnstorableError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unstorable value at %s: %s (%s)", e.Path, e.TypeName, e.Reason)
	}
	return fmt.Sprintf("unstorable value: %s (%s)", e.TypeName, e.Reason)
}

// IsUnstorable returns true if the error is an UnstorableError.
// Uses errors.As to handle wrapped errors.
func IsUnstorable(err error) bool {
	var ue *UnstorableError
	return errors.As(err, &ue)
}

// NewUnstorableError creates an UnstorableError for a value.
func NewUnstorableError(typeName, reason string) *UnstorableError {
	return &UnstorableError{TypeName: typeName, Reason: reason}
}

// PlaceholderFor builds the value stored in place of an unstorable one.
func PlaceholderFor(err *UnstorableError) Unstorable {
	return Unstorable{TypeName: err.TypeName, Reason: err.Reason}
}
