package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportStoreMode(t *testing.T) {
	dbPath, sessionID := seedDemoDB(t)
	target := filepath.Join(t.TempDir(), "backup.db")

	out, _, err := executeRoot(t, "export", target, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported store to "+target)

	// The copy is a complete database.
	sessOut, _, err := executeRoot(t, "sessions", "--db", target)
	require.NoError(t, err)
	assert.Contains(t, sessOut, sessionID)
}

func TestExportTraceMode(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	target := filepath.Join(t.TempDir(), "objects.json")

	out, _, err := executeRoot(t, "export", target, "--db", dbPath, "--mode", "trace", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status)
	assert.Greater(t, dataField(t, resp, "objects"), float64(0))
	assert.Greater(t, dataField(t, resp, "chains"), float64(0))
	assert.FileExists(t, target)
}

func TestExportInvalidMode(t *testing.T) {
	dbPath, _ := seedDemoDB(t)

	_, _, err := executeRoot(t, "export", "out.bin", "--db", dbPath, "--mode", "tarball")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid mode "tarball"`)
}

func TestExportImportRoundTrip(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	bundlePath := filepath.Join(t.TempDir(), "bundle.json")

	out, _, err := executeRoot(t, "export", bundlePath, "--db", dbPath, "--mode", "trace", "--format", "json")
	require.NoError(t, err)
	exported := decodeResponse(t, out)

	freshDB := filepath.Join(t.TempDir(), "fresh.db")
	out, _, err = executeRoot(t, "import", bundlePath, "--db", freshDB, "--format", "json")
	require.NoError(t, err)

	imported := decodeResponse(t, out)
	require.Equal(t, "ok", imported.Status)
	assert.Equal(t, dataField(t, exported, "objects"), dataField(t, imported, "objects"))
	assert.Equal(t, dataField(t, exported, "chains"), dataField(t, imported, "chains"))

	// Version chains survive the round trip.
	keys := stackChainKeys(t, dbPath)
	histOut, _, err := executeRoot(t, "history", keys[0], "--db", freshDB)
	require.NoError(t, err)
	assert.Contains(t, histOut, "3 version(s)")
}

func TestExportImportCompressedRoundTrip(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	bundlePath := filepath.Join(t.TempDir(), "bundle.json.zst")

	_, _, err := executeRoot(t, "export", bundlePath, "--db", dbPath, "--mode", "trace")
	require.NoError(t, err)

	freshDB := filepath.Join(t.TempDir(), "fresh.db")
	out, _, err := executeRoot(t, "import", bundlePath, "--db", freshDB)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported")
}

func TestImportIntoPopulatedStore(t *testing.T) {
	dbPath, _ := seedDemoDB(t)
	bundlePath := filepath.Join(t.TempDir(), "bundle.json")

	_, _, err := executeRoot(t, "export", bundlePath, "--db", dbPath, "--mode", "trace")
	require.NoError(t, err)

	// Importing back into the source store is a no-op for every object.
	_, _, err = executeRoot(t, "import", bundlePath, "--db", dbPath)
	require.NoError(t, err)
}

func TestImportMissingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "retrace.db")

	_, _, err := executeRoot(t, "import", filepath.Join(t.TempDir(), "absent.json"), "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
