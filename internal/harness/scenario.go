package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: record a session through
// the demo functions, optionally replay some of the recorded calls,
// and assert on what ended up in the store.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the
	// recorded session name and the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Greeting sets the demo greeting global before recording.
	// Empty keeps the default.
	Greeting string `yaml:"greeting,omitempty"`

	// Rolls fixes the demo dice to a deterministic cycle. Scenarios
	// that touch RollDice or PlayRound must set it, or their traces
	// will not be reproducible.
	Rolls []int `yaml:"rolls,omitempty"`

	// Record lists the calls to capture, in order.
	Record []RecordStep `yaml:"record"`

	// Replay lists recorded calls to re-execute after the session ends.
	Replay []ReplayStep `yaml:"replay,omitempty"`

	// Assertions validate the final store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// RecordStep is one call to capture.
type RecordStep struct {
	// Call is the demo function name (e.g. "demo.Add").
	Call string `yaml:"call"`

	// Args carries the call arguments. Required; use an empty map for
	// nullary calls.
	Args map[string]any `yaml:"args"`
}

// ReplayStep re-executes one recorded call, or the whole sequence
// starting from it.
type ReplayStep struct {
	// Call selects which recorded function to replay.
	Call string `yaml:"call"`

	// Index selects the nth recorded occurrence of Call (0-based).
	Index int `yaml:"index,omitempty"`

	// Sequence replays from the selected call to the session's end
	// instead of the single call.
	Sequence bool `yaml:"sequence,omitempty"`

	IgnoreGlobals []string `yaml:"ignore_globals,omitempty"`
	Mocks         []string `yaml:"mocks,omitempty"`
	Record        bool     `yaml:"record,omitempty"`

	// Expect validates the replay outcome. Nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected replay outcome.
type ExpectClause struct {
	// State is the expected terminal state ("committed", "failed", "aborted").
	State string `yaml:"state"`

	// Value is the expected return value. Compared loosely across
	// numeric widths. Nil skips the check.
	Value any `yaml:"value,omitempty"`

	// Exception is a substring the recovered panic must contain.
	Exception string `yaml:"exception,omitempty"`
}

// Assertion validates the store after recording and replays.
type Assertion struct {
	// Type selects the check:
	// - "call_count": Function was recorded exactly Count times in the session
	// - "call_order": Functions appear in the session in the given order
	// - "paired": every call in the session reached a terminal outcome
	// - "branch_count": exactly Count branch roots exist in the store
	// - "session_count": exactly Count sessions exist in the store
	Type string `yaml:"type"`

	// Function is the recorded name (call_count).
	Function string `yaml:"function,omitempty"`

	// Functions is the expected order (call_order).
	Functions []string `yaml:"functions,omitempty"`

	// Count is the expected number of occurrences (call_count,
	// branch_count, session_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertCallCount    = "call_count"
	AssertCallOrder    = "call_order"
	AssertPaired       = "paired"
	AssertBranchCount  = "branch_count"
	AssertSessionCount = "session_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently skipping steps.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Record) == 0 {
		return fmt.Errorf("record list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Rolls {
		if r < 1 {
			return fmt.Errorf("rolls[%d]: must be positive, got %d", i, r)
		}
	}

	for i, step := range s.Record {
		if step.Call == "" {
			return fmt.Errorf("record[%d]: call is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("record[%d]: args is required (use empty map if no args)", i)
		}
	}

	for i, step := range s.Replay {
		if step.Call == "" {
			return fmt.Errorf("replay[%d]: call is required", i)
		}
		if step.Index < 0 {
			return fmt.Errorf("replay[%d]: index must be non-negative", i)
		}
		if step.Expect != nil && step.Expect.State == "" {
			return fmt.Errorf("replay[%d].expect: state is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallCount:
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: function is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Functions) == 0 {
			return fmt.Errorf("assertions[%d]: functions list is required for call_order", index)
		}
	case AssertPaired:
		// No parameters.
	case AssertBranchCount, AssertSessionCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
