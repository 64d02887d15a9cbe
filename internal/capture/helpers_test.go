package capture

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/store"
)

// quietLogger keeps expected-failure warnings out of test output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// setupRepository opens a fresh store and a repository over it with a
// short flush interval, so tests never wait on the default cadence.
func setupRepository(t *testing.T, opts ...RepositoryOption) (*Repository, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	return setupRepositoryOver(t, s, opts...), s
}

func setupRepositoryOver(t *testing.T, s *store.Store, opts ...RepositoryOption) *Repository {
	t.Helper()
	base := []RepositoryOption{
		WithLogger(quietLogger()),
		WithFlushInterval(10 * time.Millisecond),
	}
	r := New(s, append(base, opts...)...)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func startTestSession(t *testing.T, r *Repository, name string) string {
	t.Helper()
	id, err := r.StartSession(context.Background(), SessionInput{Name: name})
	require.NoError(t, err)
	return id
}

func mustBegin(t *testing.T, r *Repository, in CallInput) CallID {
	t.Helper()
	id, err := r.BeginCall(context.Background(), in)
	require.NoError(t, err)
	return id
}

func mustEnd(t *testing.T, r *Repository, id CallID, in ReturnInput) {
	t.Helper()
	require.NoError(t, r.EndCall(context.Background(), id, in))
}

func mustFlush(t *testing.T, r *Repository) {
	t.Helper()
	require.NoError(t, r.Flush(context.Background()))
}
