package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/query"
	"github.com/roach88/retrace/internal/store"
)

// executeRoot runs the full command tree against capture buffers.
func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeResponse parses one JSON CLI response from stdout.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// dataField digs a field out of a decoded response's data object.
func dataField(t *testing.T, resp CLIResponse, field string) any {
	t.Helper()

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return data[field]
}

// seedDemoDB records one demo session into a fresh database and
// returns its path and the recorded session id.
func seedDemoDB(t *testing.T) (string, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "retrace.db")
	out, _, err := executeRoot(t, "demo", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	sessionID, ok := dataField(t, resp, "session_id").(string)
	require.True(t, ok)
	require.NotEmpty(t, sessionID)
	return dbPath, sessionID
}

// firstCall returns the earliest recorded call of the named function.
func firstCall(t *testing.T, dbPath, function string) query.CallSummary {
	t.Helper()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	calls, err := query.New(st).ListCalls(context.Background(), query.Filter{Function: function})
	require.NoError(t, err)
	require.NotEmpty(t, calls, "no recorded call of %s", function)
	return calls[0]
}
