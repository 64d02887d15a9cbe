package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writePolicy(t, "policy.cue", `
		capture: ignore: ["secret"]
		replay: plans: quick: {record: false}
	`)

	pol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"secret"}, pol.Capture.Ignore)
	_, ok := pol.Plan("quick")
	assert.True(t, ok)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/does/not/exist.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy not found")
}

func TestLoadSyntaxErrorCarriesPosition(t *testing.T) {
	path := writePolicy(t, "broken.cue", "capture: {\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.cue")
}

func TestLoadCompileErrorCarriesPosition(t *testing.T) {
	path := writePolicy(t, "bad.cue", `capture: functions: "f": {mode: "statement"}`)

	_, err := Load(path)
	require.Error(t, err)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Pos.Filename(), "bad.cue")
}
