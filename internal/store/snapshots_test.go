package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/retrace/internal/object"
)

func TestInsertSnapshot_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")
	mustInsertCall(t, s, createTestCall("call-1", "sess-1", "demo.Add", 0))

	aKey := mustPut(t, s, 1)
	snap := createTestSnapshot("snap-1", "call-1", 0, 12)
	snap.Locals = map[string]object.Key{"a": aKey}
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.ID != "snap-1" || got.CallID != "call-1" || got.Line != 12 {
		t.Errorf("fields = %+v", got)
	}
	if got.Position != 0 {
		t.Errorf("Position = %d", got.Position)
	}
	if got.Locals["a"] != aKey {
		t.Errorf("Locals = %v", got.Locals)
	}
	if !got.Timestamp.Equal(snap.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, snap.Timestamp)
	}
}

func TestInsertSnapshot_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")
	mustInsertCall(t, s, createTestCall("call-1", "sess-1", "demo.Add", 0))

	snap := createTestSnapshot("snap-1", "call-1", 0, 12)
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	if err := s.InsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("repeat InsertSnapshot() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM stack_snapshots`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestInsertSnapshot_RejectsInvalid(t *testing.T) {
	s := createTestStore(t)

	snap := createTestSnapshot("snap-1", "", 0, 12)
	if err := s.InsertSnapshot(context.Background(), snap); err == nil {
		t.Error("expected error for empty call id")
	}
}

func TestLinkNextSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")
	mustInsertCall(t, s, createTestCall("call-1", "sess-1", "demo.Add", 0))

	first := createTestSnapshot("snap-1", "call-1", 0, 12)
	second := createTestSnapshot("snap-2", "call-1", 1, 13)
	second.PrevID = "snap-1"
	if err := s.InsertSnapshot(ctx, first); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	if err := s.InsertSnapshot(ctx, second); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	if err := s.LinkNextSnapshot(ctx, "snap-1", "snap-2"); err != nil {
		t.Fatalf("LinkNextSnapshot() failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.NextID != "snap-2" {
		t.Errorf("NextID = %q, want snap-2", got.NextID)
	}
	tail, err := s.GetSnapshot(ctx, "snap-2")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if tail.PrevID != "snap-1" {
		t.Errorf("PrevID = %q, want snap-1", tail.PrevID)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetSnapshot(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSnapshot() error = %v, want sql.ErrNoRows", err)
	}
}

func TestSnapshotsForCall_Ordering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestSession(t, s, "sess-1")
	mustInsertCall(t, s, createTestCall("call-1", "sess-1", "demo.Add", 0))
	mustInsertCall(t, s, createTestCall("call-2", "sess-1", "demo.Sub", 1))

	// Inserted out of position order.
	for _, snap := range []object.StackSnapshot{
		createTestSnapshot("snap-3", "call-1", 2, 14),
		createTestSnapshot("snap-1", "call-1", 0, 12),
		createTestSnapshot("snap-2", "call-1", 1, 13),
		createTestSnapshot("other", "call-2", 0, 30),
	} {
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("InsertSnapshot(%s) failed: %v", snap.ID, err)
		}
	}

	snaps, err := s.SnapshotsForCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("SnapshotsForCall() failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("len = %d, want 3", len(snaps))
	}
	for i, want := range []string{"snap-1", "snap-2", "snap-3"} {
		if snaps[i].ID != want {
			t.Errorf("snaps[%d] = %s, want %s", i, snaps[i].ID, want)
		}
	}
}

func TestSnapshotsForCall_Empty(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1")
	mustInsertCall(t, s, createTestCall("call-1", "sess-1", "demo.Add", 0))

	snaps, err := s.SnapshotsForCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("SnapshotsForCall() failed: %v", err)
	}
	if snaps == nil {
		t.Error("SnapshotsForCall() = nil, want empty slice")
	}
}
