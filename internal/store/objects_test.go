package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roach88/retrace/internal/codec"
	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/testutil"
)

func TestPut_ScalarRoundTrip(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"int", 42, int64(42)},
		{"negative", -7, int64(-7)},
		{"float", 1.5, 1.5},
		{"string", "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := mustPut(t, s, tt.value)
			got, err := s.Get(context.Background(), key)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Get() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestPut_BytesRoundTrip(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, []byte("raw bytes"))
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	b, ok := got.([]byte)
	if !ok {
		t.Fatalf("Get() = %T, want []byte", got)
	}
	if string(b) != "raw bytes" {
		t.Errorf("Get() = %q, want %q", b, "raw bytes")
	}
}

func TestPut_Dedup(t *testing.T) {
	s := createTestStore(t)

	k1 := mustPut(t, s, 42)
	k2 := mustPut(t, s, 42)
	if k1 != k2 {
		t.Errorf("equal values produced different keys: %s vs %s", k1, k2)
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM stored_objects WHERE key = ?`, string(k1)).Scan(&count)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestPut_DedupAcrossShapes(t *testing.T) {
	s := createTestStore(t)

	// Slice and array with equal elements share structural content.
	k1 := mustPut(t, s, []int{1, 2})
	k2 := mustPut(t, s, [2]int{1, 2})
	if k1 != k2 {
		t.Errorf("slice and array keys differ: %s vs %s", k1, k2)
	}
}

func TestPut_SharedChildren(t *testing.T) {
	s := createTestStore(t)

	mustPut(t, s, []int{1, 2, 3})
	mustPut(t, s, []int{3, 2, 1})

	// Two roots plus three shared primitives.
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM stored_objects`).Scan(&count)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 5 {
		t.Errorf("stored_objects rows = %d, want 5", count)
	}
}

func TestPut_SequenceRoundTrip(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, []any{1, "two", []int{3}})
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	seq, ok := got.([]any)
	if !ok {
		t.Fatalf("Get() = %T, want []any", got)
	}
	if len(seq) != 3 {
		t.Fatalf("len = %d, want 3", len(seq))
	}
	if seq[0] != int64(1) || seq[1] != "two" {
		t.Errorf("elements = %v", seq)
	}
	inner, ok := seq[2].([]any)
	if !ok || len(inner) != 1 || inner[0] != int64(3) {
		t.Errorf("nested element = %v (%T)", seq[2], seq[2])
	}
}

func TestPut_MappingRoundTrip(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, map[string]int{"a": 1, "b": 2})
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	m, ok := got.(map[any]any)
	if !ok {
		t.Fatalf("Get() = %T, want map[any]any", got)
	}
	if len(m) != 2 || m["a"] != int64(1) || m["b"] != int64(2) {
		t.Errorf("map = %v", m)
	}
}

func TestPut_RegisteredStructRoundTrip(t *testing.T) {
	type point struct {
		X int
		Y int
	}
	s := createTestStore(t)
	if err := s.Codecs().Register(point{}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	key := mustPut(t, s, point{X: 3, Y: 4})
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	p, ok := got.(point)
	if !ok {
		t.Fatalf("Get() = %T, want point", got)
	}
	if p != (point{X: 3, Y: 4}) {
		t.Errorf("Get() = %+v", p)
	}
}

func TestPut_UnregisteredStructRecomposesGeneric(t *testing.T) {
	type ghost struct{ N int }
	s := createTestStore(t)

	key := mustPut(t, s, ghost{N: 7})
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	g, ok := got.(codec.GenericStruct)
	if !ok {
		t.Fatalf("Get() = %T, want GenericStruct", got)
	}
	if !strings.HasSuffix(g.TypeName, "ghost") {
		t.Errorf("TypeName = %q", g.TypeName)
	}
	if g.Fields["N"] != int64(7) {
		t.Errorf("Fields[N] = %v", g.Fields["N"])
	}
}

func TestPut_TimeRoundTrip(t *testing.T) {
	s := createTestStore(t)

	when := time.Date(2025, 6, 1, 10, 30, 0, 123456789, time.UTC)
	key := mustPut(t, s, when)
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("Get() = %T, want time.Time", got)
	}
	if !ts.Equal(when) {
		t.Errorf("Get() = %v, want %v", ts, when)
	}
}

func TestStage_StampsInjectedClock(t *testing.T) {
	epoch := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := testutil.NewFrozenClockAt(epoch, 0)

	path := filepath.Join(t.TempDir(), "clock.db")
	s, err := Open(path, WithNow(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	_, objs, err := s.Stage([]int{1, 2})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if len(objs) == 0 {
		t.Fatal("Stage() produced no rows")
	}
	for _, obj := range objs {
		if !obj.CreatedAt.Equal(epoch) {
			t.Errorf("staged %s CreatedAt = %v, want %v", obj.Key, obj.CreatedAt, epoch)
		}
	}

	// The stamp survives the write path.
	if _, err := s.Put(context.Background(), []int{1, 2}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	err = s.ForEachObject(context.Background(), func(obj object.StoredObject) error {
		if !obj.CreatedAt.Equal(epoch) {
			t.Errorf("stored %s created_at = %v, want %v", obj.Key, obj.CreatedAt, epoch)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachObject() failed: %v", err)
	}
}

func TestPut_UnstorablePlaceholder(t *testing.T) {
	s := createTestStore(t)

	key, err := s.Put(context.Background(), func() {})
	if err != nil {
		t.Fatalf("Put(func) should store a placeholder, got error: %v", err)
	}

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	u, ok := got.(codec.Unstorable)
	if !ok {
		t.Fatalf("Get() = %T, want Unstorable", got)
	}
	if u.Reason != "functions cannot be stored" {
		t.Errorf("Reason = %q", u.Reason)
	}
}

func TestPut_UnstorableInsideContainer(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, []any{1, make(chan int), 3})
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	seq := got.([]any)
	if len(seq) != 3 {
		t.Fatalf("len = %d, want 3", len(seq))
	}
	if seq[0] != int64(1) || seq[2] != int64(3) {
		t.Errorf("siblings lost: %v", seq)
	}
	u, ok := seq[1].(codec.Unstorable)
	if !ok {
		t.Fatalf("element 1 = %T, want Unstorable", seq[1])
	}
	if u.Reason != "channels cannot be stored" {
		t.Errorf("Reason = %q", u.Reason)
	}
}

func TestPut_CyclicReference(t *testing.T) {
	s := createTestStore(t)

	m := map[string]any{"n": 1}
	m["self"] = m

	key := mustPut(t, s, m)
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	rm := got.(map[any]any)
	if rm["n"] != int64(1) {
		t.Errorf("n = %v", rm["n"])
	}
	u, ok := rm["self"].(codec.Unstorable)
	if !ok {
		t.Fatalf("self = %T, want Unstorable", rm["self"])
	}
	if u.Reason != "cyclic reference" {
		t.Errorf("Reason = %q", u.Reason)
	}
}

func TestPut_SharedNonCyclicSubtree(t *testing.T) {
	s := createTestStore(t)

	// The same slice twice in one root is sharing, not a cycle.
	inner := []int{1, 2}
	key := mustPut(t, s, []any{inner, inner})

	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	seq := got.([]any)
	for i, elem := range seq {
		e, ok := elem.([]any)
		if !ok || len(e) != 2 {
			t.Errorf("element %d = %v (%T), want [1 2]", i, elem, elem)
		}
	}
}

func TestGet_AbsentKey(t *testing.T) {
	s := createTestStore(t)

	absent := object.Key(strings.Repeat("0", 64))
	got, err := s.Get(context.Background(), absent)
	if err != nil {
		t.Fatalf("Get() on absent key should not error: %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
}

func TestGetObject_RawRow(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, []int{1, 2, 3})
	obj, ok, err := s.GetObject(context.Background(), key)
	if err != nil {
		t.Fatalf("GetObject() failed: %v", err)
	}
	if !ok {
		t.Fatal("GetObject() ok = false")
	}
	if obj.Kind != object.KindSequence {
		t.Errorf("Kind = %q, want sequence", obj.Kind)
	}
	if err := obj.Verify(); err != nil {
		t.Errorf("Verify() failed: %v", err)
	}
	if obj.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestHas(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, "present")
	ok, err := s.Has(context.Background(), key)
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if !ok {
		t.Error("Has() = false for stored key")
	}

	ok, err = s.Has(context.Background(), object.Key(strings.Repeat("a", 64)))
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if ok {
		t.Error("Has() = true for absent key")
	}
}

// Version chain tests

func TestVersionChain_WorkedScenario(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustPut(t, s, []int{1, 2, 3}, WithIdentity("x"))
	b := mustPut(t, s, []int{1, 2, 3, 5}, WithIdentity("x"))
	if a == b {
		t.Fatal("append produced the same key")
	}

	next, ok, err := s.Next(ctx, a)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if !ok || next != b {
		t.Errorf("Next(a) = %s ok=%v, want %s", next, ok, b)
	}

	// Re-storing content equal to the latest appends nothing.
	again := mustPut(t, s, []int{1, 2, 3, 5}, WithIdentity("x"))
	if again != b {
		t.Errorf("re-store key = %s, want %s", again, b)
	}
	history, err := s.History(ctx, a)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("chain after re-store = %v, want 2 entries", history)
	}

	c := mustPut(t, s, []int{9, 2, 3, 5}, WithIdentity("x"))
	history, err = s.History(ctx, a)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	want := []object.Key{a, b, c}
	if len(history) != 3 {
		t.Fatalf("History(a) = %v, want 3 entries", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("History[%d] = %s, want %s", i, history[i], want[i])
		}
	}

	next, ok, err = s.Next(ctx, c)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if ok {
		t.Errorf("Next(c) = %s, want end of chain", next)
	}
}

func TestVersionChain_ReturnToEarlierContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustPut(t, s, 1, WithIdentity("counter"))
	b := mustPut(t, s, 2, WithIdentity("counter"))
	a2 := mustPut(t, s, 1, WithIdentity("counter"))
	if a2 != a {
		t.Fatalf("equal content produced different key: %s vs %s", a2, a)
	}

	// Latest-only comparison: returning to earlier content appends a new
	// version instead of folding into the old one.
	history, err := s.History(ctx, a)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	want := []object.Key{a, b, a}
	if len(history) != 3 {
		t.Fatalf("History = %v, want 3 entries", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("History[%d] = %s, want %s", i, history[i], want[i])
		}
	}

	// A repeated key resolves to its first occurrence.
	next, ok, err := s.Next(ctx, a)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if !ok || next != b {
		t.Errorf("Next(a) = %s ok=%v, want %s", next, ok, b)
	}
}

func TestVersionChain_SeparateHandles(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustPut(t, s, 1, WithIdentity("left"))
	mustPut(t, s, 2, WithIdentity("left"))
	k := mustPut(t, s, 10, WithIdentity("right"))

	history, err := s.History(ctx, k)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 1 || history[0] != k {
		t.Errorf("History = %v, want [%s]", history, k)
	}
}

func TestHistory_NoIdentity(t *testing.T) {
	s := createTestStore(t)

	key := mustPut(t, s, "anonymous")
	history, err := s.History(context.Background(), key)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if history == nil {
		t.Error("History() = nil, want empty slice")
	}
	if len(history) != 0 {
		t.Errorf("History() = %v, want empty", history)
	}
}

func TestNext_UnknownKey(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.Next(context.Background(), object.Key(strings.Repeat("b", 64)))
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if ok {
		t.Error("Next() ok = true for unknown key")
	}
}

func TestIdentity_Lookup(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := mustPut(t, s, "v1", WithIdentity("conn"))
	latest := mustPut(t, s, "v2", WithIdentity("conn"))

	ident, ok, err := s.Identity(ctx, "conn")
	if err != nil {
		t.Fatalf("Identity() failed: %v", err)
	}
	if !ok {
		t.Fatal("Identity() ok = false")
	}
	if ident.Handle != "conn" {
		t.Errorf("Handle = %q", ident.Handle)
	}
	if ident.FirstKey != first || ident.LatestKey != latest {
		t.Errorf("chain ends = %s..%s, want %s..%s", ident.FirstKey, ident.LatestKey, first, latest)
	}

	_, ok, err = s.Identity(ctx, "never-stored")
	if err != nil {
		t.Fatalf("Identity() failed: %v", err)
	}
	if ok {
		t.Error("Identity() ok = true for unknown handle")
	}
}

// Staging tests: decompose on one thread, write on another.

func TestStage_WritesNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	key, objs, err := s.Stage([]any{1, "two"})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("Stage() = %d rows, want 3", len(objs))
	}
	if objs[len(objs)-1].Key != key {
		t.Errorf("root %s is not the last staged row %s", key, objs[len(objs)-1].Key)
	}

	ok, err := s.Has(ctx, key)
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if ok {
		t.Error("Stage() wrote to the database")
	}
}

func TestStage_KeysMatchPut(t *testing.T) {
	s := createTestStore(t)

	staged, _, err := s.Stage(map[string]any{"n": 1, "tags": []any{"a"}})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	direct := mustPut(t, s, map[string]any{"n": 1, "tags": []any{"a"}})
	if staged != direct {
		t.Errorf("staged key %s != Put key %s", staged, direct)
	}
}

func TestStage_DedupsRepeatedContent(t *testing.T) {
	s := createTestStore(t)

	_, objs, err := s.Stage([]any{"x", "x", "x"})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	// One row for the shared element, one for the sequence.
	if len(objs) != 2 {
		t.Errorf("Stage() = %d rows, want 2", len(objs))
	}
}

func TestPutObjects_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	key, objs, err := s.Stage([]any{1, "two", []int{3}})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if err := s.PutObjects(ctx, objs); err != nil {
		t.Fatalf("PutObjects() failed: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	seq, ok := got.([]any)
	if !ok || len(seq) != 3 {
		t.Fatalf("Get() = %v (%T), want 3-element sequence", got, got)
	}
	if seq[0] != int64(1) || seq[1] != "two" {
		t.Errorf("elements = %v", seq)
	}
}

func TestPutObjects_Reapply(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, objs, err := s.Stage([]any{"once", "twice"})
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if err := s.PutObjects(ctx, objs); err != nil {
		t.Fatalf("PutObjects() failed: %v", err)
	}
	if err := s.PutObjects(ctx, objs); err != nil {
		t.Fatalf("PutObjects() reapply failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM stored_objects`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != len(objs) {
		t.Errorf("stored_objects rows = %d, want %d", count, len(objs))
	}
}

func TestObserve_BuildsChain(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	k1, objs1, err := s.Stage("state one")
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	k2, objs2, err := s.Stage("state two")
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if err := s.PutObjects(ctx, append(objs1, objs2...)); err != nil {
		t.Fatalf("PutObjects() failed: %v", err)
	}

	for _, k := range []object.Key{k1, k2, k2, k1} {
		if err := s.Observe(ctx, "queue", k); err != nil {
			t.Fatalf("Observe(%s) failed: %v", k, err)
		}
	}

	// Re-observing the latest content appends nothing; returning to
	// earlier content appends a new version.
	keys, ok, err := s.HandleHistory(ctx, "queue")
	if err != nil {
		t.Fatalf("HandleHistory() failed: %v", err)
	}
	if !ok {
		t.Fatal("HandleHistory() ok = false")
	}
	want := []object.Key{k1, k2, k1}
	if len(keys) != len(want) {
		t.Fatalf("chain = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("chain[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestObserve_ContinuesPutChain(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := mustPut(t, s, "v1", WithIdentity("cfg"))
	key, objs, err := s.Stage("v2")
	if err != nil {
		t.Fatalf("Stage() failed: %v", err)
	}
	if err := s.PutObjects(ctx, objs); err != nil {
		t.Fatalf("PutObjects() failed: %v", err)
	}
	if err := s.Observe(ctx, "cfg", key); err != nil {
		t.Fatalf("Observe() failed: %v", err)
	}

	ident, ok, err := s.Identity(ctx, "cfg")
	if err != nil {
		t.Fatalf("Identity() failed: %v", err)
	}
	if !ok || ident.FirstKey != first || ident.LatestKey != key {
		t.Errorf("chain ends = %s..%s, want %s..%s", ident.FirstKey, ident.LatestKey, first, key)
	}
}

func TestObserve_RequiresObjectRow(t *testing.T) {
	s := createTestStore(t)

	// Version chains reference object rows, so observing a key that was
	// never written fails instead of leaving a dangling chain entry.
	err := s.Observe(context.Background(), "ghost", object.Key(strings.Repeat("c", 64)))
	if err == nil {
		t.Fatal("Observe() succeeded for a missing object row")
	}
}

// Cache tests

func TestGet_PopulatesCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	key := mustPut(t, s, []int{1, 2})
	if _, err := s.Get(ctx, key); err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if s.cache.Len() == 0 {
		t.Error("cache empty after Get")
	}
}

func TestOpen_CacheDisabled(t *testing.T) {
	s, err := Open(":memory:", WithCacheSize(0))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.cache != nil {
		t.Error("cache should be nil when disabled")
	}
	key := mustPut(t, s, 42)
	got, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != int64(42) {
		t.Errorf("Get() = %v", got)
	}
}
