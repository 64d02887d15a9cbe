package object

import (
	"fmt"
	"time"
)

// FunctionCall is one recorded invocation. Created when the call is
// entered, completed exactly once when it returns or raises, immutable
// afterwards.
type FunctionCall struct {
	ID        string    `json:"id"` // UUIDv7
	SessionID string    `json:"session_id"`
	Function  string    `json:"function"`
	File      string    `json:"file"`
	Line      int       `json:"line"` // Call site
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitzero"` // Zero while pending

	Locals      map[string]Key `json:"locals"`  // Bound name -> content key
	Globals     map[string]Key `json:"globals"` // Referenced global -> content key
	ReturnValue Key            `json:"return_value,omitempty"`
	Exception   string         `json:"exception,omitempty"`
	StackTrace  string         `json:"stack_trace,omitempty"`

	// Lineage is two separate relations: InvokedBy is ordinary
	// caller->callee nesting inside one session, BranchedFrom is the
	// originating call when this call was created by replay. A call has
	// at most one of the two set.
	InvokedBy    string `json:"invoked_by,omitempty"`
	BranchedFrom string `json:"branched_from,omitempty"`

	NextCallID     string `json:"next_call_id,omitempty"` // Linear recording order
	OrderInSession int64  `json:"order_in_session"`
	OrderInParent  int64  `json:"order_in_parent"`

	CodeDefinitionID CodeID            `json:"code_definition_id,omitempty"`
	FirstSnapshotID  string            `json:"first_snapshot_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CallOutcome describes where a call stands in its lifecycle.
type CallOutcome string

// Call outcomes.
const (
	OutcomePending  CallOutcome = "pending"
	OutcomeReturned CallOutcome = "returned"
	OutcomeRaised   CallOutcome = "raised"
)

// Outcome derives the lifecycle state from the completion fields.
func (c FunctionCall) Outcome() CallOutcome {
	switch {
	case c.EndTime.IsZero():
		return OutcomePending
	case c.Exception != "":
		return OutcomeRaised
	default:
		return OutcomeReturned
	}
}

// Completed reports whether the call has finished.
func (c FunctionCall) Completed() bool { return !c.EndTime.IsZero() }

// Validate checks the fields required at creation time.
func (c FunctionCall) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("call: empty id")
	}
	if c.SessionID == "" {
		return fmt.Errorf("call %s: empty session id", c.ID)
	}
	if c.Function == "" {
		return fmt.Errorf("call %s: empty function", c.ID)
	}
	if c.InvokedBy != "" && c.BranchedFrom != "" {
		return fmt.Errorf("call %s: both invoked_by and branched_from set", c.ID)
	}
	for name, k := range c.Locals {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("call %s local %q: %w", c.ID, name, err)
		}
	}
	for name, k := range c.Globals {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("call %s global %q: %w", c.ID, name, err)
		}
	}
	return nil
}

// StackSnapshot is the state of one call frame at a single line, linked
// into a doubly linked chain ordered by Position.
type StackSnapshot struct {
	ID        string         `json:"id"`
	CallID    string         `json:"call_id"`
	Line      int            `json:"line"`
	Locals    map[string]Key `json:"locals"`
	Globals   map[string]Key `json:"globals"`
	Timestamp time.Time      `json:"timestamp"`
	Position  int64          `json:"position"` // Order within the call, from 0
	PrevID    string         `json:"prev_id,omitempty"`
	NextID    string         `json:"next_id,omitempty"`
}

// Validate checks the fields required at creation time.
func (s StackSnapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("snapshot: empty id")
	}
	if s.CallID == "" {
		return fmt.Errorf("snapshot %s: empty call id", s.ID)
	}
	if s.Position < 0 {
		return fmt.Errorf("snapshot %s: negative position %d", s.ID, s.Position)
	}
	return nil
}

// MonitoringSession groups the calls recorded in one capture run.
// CommonGlobals and CommonLocals hold, per function, the variable names
// present in every recorded call of that function; both are computed once
// when the session ends.
type MonitoringSession struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitzero"` // Zero while active

	EntryPointCallID string              `json:"entry_point_call_id,omitempty"`
	Calls            map[string][]string `json:"calls"` // Function -> ordered call ids
	CommonGlobals    map[string][]string `json:"common_globals,omitempty"`
	CommonLocals     map[string][]string `json:"common_locals,omitempty"`
	Metadata         map[string]string   `json:"metadata,omitempty"`
}

// Active reports whether the session is still recording.
func (s MonitoringSession) Active() bool { return s.EndTime.IsZero() }

// Validate checks the fields required at creation time.
func (s MonitoringSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session: empty id")
	}
	if s.Name == "" {
		return fmt.Errorf("session %s: empty name", s.ID)
	}
	return nil
}

// NOTE: These are store-internal types, not part of the value model.
// They use auto-increment IDs for FK references.

// ObjectIdentity maps a runtime identity handle to its version chain
// (store-layer). Consulted only when storing with an identity; reads and
// history walks never touch it.
type ObjectIdentity struct {
	ID        int64  `json:"id"` // Auto-increment (store FK)
	Handle    string `json:"handle"`
	FirstKey  Key    `json:"first_key"`
	LatestKey Key    `json:"latest_key"`
}

// ObjectVersion is one link of a version chain (store-layer).
type ObjectVersion struct {
	ID         int64 `json:"id"` // Auto-increment (store FK)
	IdentityID int64 `json:"identity_id"`
	Version    int64 `json:"version"` // From 1, dense within a chain
	Key        Key   `json:"key"`
}
