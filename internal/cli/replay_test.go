package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayCommittedCall(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	call := firstCall(t, dbPath, "demo.Add")

	out, _, err := executeRoot(t, "replay", call.ID, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay of "+call.ID+": committed")
	assert.Contains(t, out, "returned: 3")
}

func TestReplayJSON(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	call := firstCall(t, dbPath, "demo.Add")

	out, _, err := executeRoot(t, "replay", call.ID, "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, "committed", dataField(t, resp, "state"))
	assert.Equal(t, call.ID, dataField(t, resp, "call_id"))
	assert.Equal(t, float64(3), dataField(t, resp, "value"))
}

func TestReplayRecordedBranch(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	call := firstCall(t, dbPath, "demo.Add")

	out, _, err := executeRoot(t, "replay", call.ID, "--db", dbPath, "--record", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	branchID, ok := dataField(t, resp, "branch_id").(string)
	require.True(t, ok)
	require.NotEmpty(t, branchID)

	// The branch is a real call, linked back to its origin.
	showOut, _, err := executeRoot(t, "show", branchID, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, showOut, "branched from: "+call.ID)
}

func TestReplayMockedSubcalls(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	round := firstCall(t, dbPath, "demo.PlayRound")

	// With the dice mocked from the recording the round reproduces its
	// recorded total.
	out, _, err := executeRoot(t, "replay", round.ID, "--db", dbPath,
		"--mock", "demo.RollDice", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, "committed", dataField(t, resp, "state"))

	recorded := firstCall(t, dbPath, "demo.PlayRound")
	detail, _, err := executeRoot(t, "show", recorded.ID, "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	shown := decodeResponse(t, detail)
	assert.Equal(t, dataField(t, shown, "return_value"), dataField(t, resp, "value"))
}

func TestReplaySequence(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	call := firstCall(t, dbPath, "demo.Add")

	out, _, err := executeRoot(t, "replay", call.ID, "--db", dbPath,
		"--sequence", "--mock", "demo.RollDice")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed sequence from "+call.ID)
}

func TestReplaySequenceRecordsBranch(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	call := firstCall(t, dbPath, "demo.Add")

	// --record must reach the engine: a recorded sequence reports its
	// branch root.
	out, _, err := executeRoot(t, "replay", call.ID, "--db", dbPath,
		"--sequence", "--record", "--mock", "demo.RollDice")
	require.NoError(t, err)
	assert.Contains(t, out, "branch root: ")
}

func TestReplaySubsequence(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	first := firstCall(t, dbPath, "demo.Add")
	greet := firstCall(t, dbPath, "demo.Greet")

	out, _, err := executeRoot(t, "replay", first.ID, "--db", dbPath, "--to", greet.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed subsequence "+first.ID+" .. "+greet.ID)
}

func TestReplayCallNotFound(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	out, _, err := executeRoot(t, "replay", "no-such-call", "--db", dbPath, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
}

func TestReplayRequiresCallID(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	_, _, err := executeRoot(t, "replay", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "call id is required")
}

func TestReplayPlanFromPolicy(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	round := firstCall(t, dbPath, "demo.PlayRound")

	policyPath := filepath.Join(t.TempDir(), "retrace.cue")
	policySrc := `replay: plans: rerun: {
	start: "` + round.ID + `"
	mocks: ["demo.RollDice"]
}
`
	require.NoError(t, os.WriteFile(policyPath, []byte(policySrc), 0o644))

	out, _, err := executeRoot(t, "replay", "--db", dbPath,
		"--policy", policyPath, "--plan", "rerun", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, "committed", dataField(t, resp, "state"))
}

func TestReplayPlanRequiresPolicy(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	_, _, err := executeRoot(t, "replay", "--db", dbPath, "--plan", "rerun")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--plan requires --policy")
}
