package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes scenario YAML to a temp file and returns its path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: addition
description: "Records and replays a pure call"
record:
  - call: demo.Add
    args:
      a: 1
      b: 2
replay:
  - call: demo.Add
    expect:
      state: committed
      value: 3
assertions:
  - type: call_count
    function: demo.Add
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "addition", scenario.Name)
	assert.Equal(t, "Records and replays a pure call", scenario.Description)
	require.Len(t, scenario.Record, 1)
	assert.Equal(t, "demo.Add", scenario.Record[0].Call)
	assert.Equal(t, 1, scenario.Record[0].Args["a"])
	require.Len(t, scenario.Replay, 1)
	require.NotNil(t, scenario.Replay[0].Expect)
	assert.Equal(t, "committed", scenario.Replay[0].Expect.State)
	assert.Equal(t, 3, scenario.Replay[0].Expect.Value)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertCallCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "assertion instead of assertions"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertion:
  - type: paired
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: paired
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: s
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: paired
`,
			wantErr: "description is required",
		},
		{
			name: "empty record",
			content: `
name: s
description: "d"
assertions:
  - type: paired
`,
			wantErr: "record list is required",
		},
		{
			name: "record step without args",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
assertions:
  - type: paired
`,
			wantErr: "record[0]: args is required",
		},
		{
			name: "record step without call",
			content: `
name: s
description: "d"
record:
  - args: {a: 1}
assertions:
  - type: paired
`,
			wantErr: "record[0]: call is required",
		},
		{
			name: "replay expect without state",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
replay:
  - call: demo.Add
    expect:
      value: 3
assertions:
  - type: paired
`,
			wantErr: "replay[0].expect: state is required",
		},
		{
			name: "negative replay index",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
replay:
  - call: demo.Add
    index: -1
assertions:
  - type: paired
`,
			wantErr: "replay[0]: index must be non-negative",
		},
		{
			name: "nonpositive roll",
			content: `
name: s
description: "d"
rolls: [3, 0]
record:
  - call: demo.PlayRound
    args: {rolls: 1, sides: 6}
assertions:
  - type: paired
`,
			wantErr: "rolls[1]: must be positive",
		},
		{
			name: "missing assertions",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown assertion type",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: trace_contains
`,
			wantErr: `assertions[0]: unknown assertion type "trace_contains"`,
		},
		{
			name: "call_count without function",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: call_count
    count: 1
`,
			wantErr: "assertions[0]: function is required for call_count",
		},
		{
			name: "call_order without functions",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: call_order
`,
			wantErr: "assertions[0]: functions list is required for call_order",
		},
		{
			name: "negative branch_count",
			content: `
name: s
description: "d"
record:
  - call: demo.Add
    args: {a: 1, b: 2}
assertions:
  - type: branch_count
    count: -2
`,
			wantErr: "assertions[0]: count must be non-negative for branch_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateScenario_EmptyArgsMapAllowed(t *testing.T) {
	s := &Scenario{
		Name:        "s",
		Description: "d",
		Record:      []RecordStep{{Call: "demo.Add", Args: map[string]any{}}},
		Assertions:  []Assertion{{Type: AssertPaired}},
	}
	require.NoError(t, validateScenario(s))
}
