package replay

import "fmt"

// State tracks one replayed call through its lifecycle.
//
// The progression is strictly forward:
//
//	Pending -> Reconstructing -> Invoking -> {Committed | Failed}
//
// Committed means the target ran to completion (a recovered panic in the
// target still commits; the panic is the recorded outcome). Failed means
// the replay machinery itself gave up before or during reconstruction,
// leaving the store unchanged except for objects already written as part
// of reconstruction, which are content-addressed and dedupe away on any
// future identical store.
type State string

const (
	// StatePending is the initial state before any work starts.
	StatePending State = "pending"

	// StateReconstructing covers loading the call, resolving the target
	// and rebuilding arguments, globals, and mocks.
	StateReconstructing State = "reconstructing"

	// StateInvoking covers the target's own execution. There is no
	// cancellation point inside it; the target runs to completion.
	StateInvoking State = "invoking"

	// StateCommitted means the target was invoked and produced an
	// outcome (a return value or a recovered panic).
	StateCommitted State = "committed"

	// StateFailed means replay stopped before producing an outcome.
	StateFailed State = "failed"
)

// ValidateState checks that s is one of the defined lifecycle states.
func ValidateState(s State) error {
	switch s {
	case StatePending, StateReconstructing, StateInvoking, StateCommitted, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid replay state %q", s)
	}
}

// Terminal reports whether the state ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}
