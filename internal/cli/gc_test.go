package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	out, _, err := executeRoot(t, "gc", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 unreachable object(s)")
}

func TestGCAfterRecordingRemovesNothing(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	// Every stored object is reachable from some recorded call.
	out, _, err := executeRoot(t, "gc", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(0), dataField(t, resp, "removed"))
}

func TestGCReportsRemovedCount(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	// DeleteCall runs its own scoped collection, so a follow-up sweep
	// finds nothing further.
	call := firstCall(t, dbPath, "demo.Greet")
	_, _, err := executeRoot(t, "delete", call.ID, "--db", dbPath)
	require.NoError(t, err)

	out, _, err := executeRoot(t, "gc", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(0), dataField(t, resp, "removed"))
}
