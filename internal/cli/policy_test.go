package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "retrace.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPolicyValidateAcceptsValidFile(t *testing.T) {
	path := writePolicyFile(t, `
capture: {
	ignore: ["password"]
	functions: {
		"demo.Greet": {mode: "function"}
		"demo.Push": {mode: "line", lines: [3, 5]}
	}
}
replay: plans: rerun: {
	mocks: ["demo.RollDice"]
	record: true
	start: "call-1"
}
`)

	out, _, err := executeRoot(t, "policy", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "2 function rule(s), 1 plan(s)")
	assert.Contains(t, out, "ignored variables: [password]")
}

func TestPolicyValidateJSON(t *testing.T) {
	path := writePolicyFile(t, `replay: plans: {a: {start: "x"}, b: {start: "y"}}`)

	out, _, err := executeRoot(t, "policy", "validate", path, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, dataField(t, resp, "valid"))

	plans, ok := dataField(t, resp, "plans").([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, plans)
}

func TestPolicyValidateRejectsBadMode(t *testing.T) {
	path := writePolicyFile(t, `capture: functions: "demo.Greet": {mode: "statement"}`)

	out, _, err := executeRoot(t, "policy", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Policy invalid")
	assert.Contains(t, out, "mode")
}

func TestPolicyValidateRejectsEmptyDocument(t *testing.T) {
	path := writePolicyFile(t, `other: 1`)

	out, _, err := executeRoot(t, "policy", "validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_POLICY", resp.Error.Code)
}

func TestPolicyValidateMissingFile(t *testing.T) {
	_, _, err := executeRoot(t, "policy", "validate", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
