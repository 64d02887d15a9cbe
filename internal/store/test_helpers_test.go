package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/retrace/internal/object"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession inserts a session row so calls can reference it.
func createTestSession(t *testing.T, s *Store, id string) object.MonitoringSession {
	t.Helper()
	sess := object.MonitoringSession{
		ID:        id,
		Name:      "session " + id,
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Calls:     map[string][]string{},
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

// createTestCall builds a minimal pending call bound to sessionID.
func createTestCall(id, sessionID, function string, order int64) object.FunctionCall {
	return object.FunctionCall{
		ID:             id,
		SessionID:      sessionID,
		Function:       function,
		File:           "demo/demo.go",
		Line:           42,
		StartTime:      time.Date(2025, 6, 1, 10, 0, 1, 0, time.UTC).Add(time.Duration(order) * time.Second),
		Locals:         map[string]object.Key{},
		Globals:        map[string]object.Key{},
		OrderInSession: order,
	}
}

// createTestSnapshot builds a minimal snapshot for callID.
func createTestSnapshot(id, callID string, position int64, line int) object.StackSnapshot {
	return object.StackSnapshot{
		ID:        id,
		CallID:    callID,
		Line:      line,
		Locals:    map[string]object.Key{},
		Globals:   map[string]object.Key{},
		Timestamp: time.Date(2025, 6, 1, 10, 0, 2, 0, time.UTC).Add(time.Duration(position) * time.Millisecond),
		Position:  position,
	}
}

// mustPut stores a value and fails the test on error.
func mustPut(t *testing.T, s *Store, value any, opts ...PutOption) object.Key {
	t.Helper()
	key, err := s.Put(context.Background(), value, opts...)
	if err != nil {
		t.Fatalf("Put(%v) failed: %v", value, err)
	}
	return key
}

// mustInsertCall inserts a call and fails the test on error.
func mustInsertCall(t *testing.T, s *Store, call object.FunctionCall) {
	t.Helper()
	if err := s.InsertCall(context.Background(), call); err != nil {
		t.Fatalf("InsertCall(%s) failed: %v", call.ID, err)
	}
}
