package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	out, _, err := executeRoot(t, "sessions", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")
}

func TestSessionsListsRecordedSession(t *testing.T) {
	dbPath, sessionID := seedDemoDB(t)

	out, _, err := executeRoot(t, "sessions", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 session(s)")
	assert.Contains(t, out, sessionID)
	assert.Contains(t, out, "status: ended")
	assert.Contains(t, out, "calls: 9")
}

func TestSessionsJSON(t *testing.T) {
	dbPath, sessionID := seedDemoDB(t)

	out, _, err := executeRoot(t, "sessions", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)

	sessions, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)

	session, ok := sessions[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, sessionID, session["id"])
	assert.Equal(t, float64(9), session["call_count"])
	assert.Equal(t, false, session["active"])
}
