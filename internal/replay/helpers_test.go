package replay

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/store"
)

// quietLogger keeps expected-failure warnings out of test output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEngine opens a fresh store, a repository over it, and an engine
// resolving against the given registry.
func setupEngine(t *testing.T, reg *Registry) (*Engine, *capture.Repository, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := capture.New(s,
		capture.WithLogger(quietLogger()),
		capture.WithFlushInterval(10*time.Millisecond),
	)
	t.Cleanup(func() { repo.Close(context.Background()) })

	return New(repo, reg, WithLogger(quietLogger())), repo, s
}

// record captures one completed call and returns its id. The session
// must already be active.
func record(t *testing.T, repo *capture.Repository, in capture.CallInput, ret capture.ReturnInput) string {
	t.Helper()
	ctx := context.Background()
	id, err := repo.BeginCall(ctx, in)
	require.NoError(t, err)
	require.NoError(t, repo.EndCall(ctx, id, ret))
	return string(id)
}

// startSession begins a session that the test ends itself before
// replaying, so branch sessions get a clean slate.
func startSession(t *testing.T, repo *capture.Repository, name string) string {
	t.Helper()
	id, err := repo.StartSession(context.Background(), capture.SessionInput{Name: name})
	require.NoError(t, err)
	return id
}

func endSession(t *testing.T, repo *capture.Repository) {
	t.Helper()
	_, err := repo.EndSession(context.Background())
	require.NoError(t, err)
}
