package harness

// TraceEvent is one entry in a scenario's execution trace: either a
// recorded call or a replay of one.
type TraceEvent struct {
	Type      string         `json:"type"` // "call" or "replay"
	Function  string         `json:"function"`
	Args      map[string]any `json:"args,omitempty"`
	Value     any            `json:"value,omitempty"`
	State     string         `json:"state,omitempty"`
	Exception string         `json:"exception,omitempty"`
	Seq       int64          `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// SessionID identifies the recorded session the scenario produced.
	SessionID string `json:"session_id,omitempty"`

	// Trace lists recorded calls and replays in execution order. Used
	// for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	seq int64
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure message and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddCallTrace appends a recorded-call event.
func (r *Result) AddCallTrace(function string, args map[string]any, value any) {
	r.seq++
	r.Trace = append(r.Trace, TraceEvent{
		Type:     "call",
		Function: function,
		Args:     args,
		Value:    value,
		Seq:      r.seq,
	})
}

// AddReplayTrace appends a replay event.
func (r *Result) AddReplayTrace(function, state string, value any, exception string) {
	r.seq++
	r.Trace = append(r.Trace, TraceEvent{
		Type:      "replay",
		Function:  function,
		State:     state,
		Value:     value,
		Exception: exception,
		Seq:       r.seq,
	})
}
