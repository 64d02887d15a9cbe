package capture

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// CallID identifies one recorded call.
type CallID string

// CallInput carries everything the instrumentation knows at function
// entry. Function is required. InvokedBy and BranchedFrom are mutually
// exclusive: a call is either nested under a monitored caller or the
// root of a replay branch, never both.
type CallInput struct {
	Function string
	File     string
	Line     int

	// Locals and Globals hold live values. They are decomposed and
	// content-addressed before BeginCall returns, so later mutation of
	// the originals cannot leak into the recording.
	Locals  map[string]any
	Globals map[string]any

	InvokedBy    CallID
	BranchedFrom CallID

	// CodeDefinitionID references the source snapshot captured at
	// registration, when one exists.
	CodeDefinitionID object.CodeID

	// Metadata carries entry-hook annotations.
	Metadata map[string]string
}

// ReturnInput carries everything known at function exit. A call either
// produced Value or failed with Err; when Err is set the return value is
// not stored.
type ReturnInput struct {
	Value      any
	Err        error
	StackTrace string

	// Metadata carries return-hook annotations, merged into the call's
	// existing metadata.
	Metadata map[string]string
}

// Stats is a point-in-time view of the write path.
type Stats struct {
	Enqueued int64 // events accepted into the queue
	Dropped  int64 // events refused or discarded before reaching the store
	Flushed  int64 // events persisted
}

// callState is the in-memory side of a call between BeginCall and
// EndCall: pairing for unknown-id detection, the snapshot chain tail,
// and the counter that orders direct subcalls.
type callState struct {
	function     string
	lastSnapshot string
	snapshots    int64
	children     int64
}

// Repository turns instrumentation events into persisted capture
// records.
//
// The hot path is split in two: BeginCall, EndCall and RecordLine stage
// values (pure CPU, state captured at hook time) and enqueue; one
// background writer owns every database write. Hooks therefore never
// wait on the database, and a full queue surfaces as a refused event
// instead of a stalled program.
//
// One Repository owns one Store's write path plus the active session;
// create one per recording process, not one per call site.
type Repository struct {
	store *store.Store
	log   *slog.Logger
	ids   IDGenerator
	now   func() time.Time

	queue *eventQueue
	w     *writer
	stats *counters

	mu      sync.Mutex
	closed  bool
	pending map[CallID]*callState
	session *sessionState
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repoConfig)

type repoConfig struct {
	logger        *slog.Logger
	ids           IDGenerator
	now           func() time.Time
	queueSize     int
	batchSize     int
	flushInterval time.Duration
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RepositoryOption {
	return func(c *repoConfig) { c.logger = l }
}

// WithIDGenerator sets the record id source. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) RepositoryOption {
	return func(c *repoConfig) { c.ids = g }
}

// WithNow sets the time source, for deterministic tests.
func WithNow(now func() time.Time) RepositoryOption {
	return func(c *repoConfig) { c.now = now }
}

// WithQueueSize bounds the write queue. Events beyond the bound are
// refused, never buffered elsewhere.
func WithQueueSize(n int) RepositoryOption {
	return func(c *repoConfig) { c.queueSize = n }
}

// WithBatchSize sets how many events one flush writes at most.
func WithBatchSize(n int) RepositoryOption {
	return func(c *repoConfig) { c.batchSize = n }
}

// WithFlushInterval sets how long buffered events may wait before a
// flush even when the batch is not full.
func WithFlushInterval(d time.Duration) RepositoryOption {
	return func(c *repoConfig) { c.flushInterval = d }
}

// New creates a Repository over the store and starts its background
// writer. Call Close to flush and stop it.
func New(s *store.Store, opts ...RepositoryOption) *Repository {
	cfg := repoConfig{
		queueSize:     defaultQueueSize,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.ids == nil {
		cfg.ids = UUIDv7Generator{}
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	r := &Repository{
		store:   s,
		log:     cfg.logger,
		ids:     cfg.ids,
		now:     cfg.now,
		queue:   newEventQueue(cfg.queueSize),
		stats:   &counters{},
		pending: make(map[CallID]*callState),
	}
	r.w = newWriter(s, r.queue, r.log, r.stats, cfg.batchSize, cfg.flushInterval)
	go r.w.run()
	return r
}

// Store exposes the underlying store for read paths that live outside
// the capture pipeline.
func (r *Repository) Store() *store.Store {
	return r.store
}

// BeginCall records function entry. Every local and global is staged at
// its current state, a pending call row is queued, and the active
// session's bookkeeping advances. The returned id is usable immediately
// even though the row reaches the database later.
//
// A full queue drops the call entirely and returns a QUEUE_FULL error:
// no id is issued, so no dangling completion can follow.
func (r *Repository) BeginCall(ctx context.Context, in CallInput) (CallID, error) {
	if in.Function == "" {
		return "", fmt.Errorf("begin call: empty function")
	}
	if in.InvokedBy != "" && in.BranchedFrom != "" {
		return "", fmt.Errorf("begin call %s: invoked_by and branched_from are mutually exclusive", in.Function)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", NewClosedError()
	}
	if r.session == nil {
		r.mu.Unlock()
		return "", NewNoSessionError()
	}
	r.mu.Unlock()

	var objects []object.StoredObject
	var observations []observation
	locals := r.stageVars(in.Locals, &objects, &observations)
	globals := r.stageVars(in.Globals, &objects, &observations)

	id := CallID(r.ids.Generate())
	call := &object.FunctionCall{
		ID:               string(id),
		Function:         in.Function,
		File:             in.File,
		Line:             in.Line,
		StartTime:        r.now(),
		Locals:           locals,
		Globals:          globals,
		InvokedBy:        string(in.InvokedBy),
		BranchedFrom:     string(in.BranchedFrom),
		CodeDefinitionID: in.CodeDefinitionID,
		Metadata:         in.Metadata,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", NewClosedError()
	}
	sess := r.session
	if sess == nil {
		return "", NewNoSessionError()
	}

	call.SessionID = sess.id
	call.OrderInSession = sess.callCount
	linkFrom := sess.lastCall
	if in.InvokedBy != "" {
		if parent, ok := r.pending[in.InvokedBy]; ok {
			call.OrderInParent = parent.children
			parent.children++
		}
	}

	ev := event{kind: eventCall, objects: objects, observations: observations, call: call, linkFrom: linkFrom}
	if !r.queue.TryEnqueue(ev) {
		r.stats.dropped.Add(1)
		return "", NewQueueFullError(in.Function)
	}
	r.stats.enqueued.Add(1)

	sess.callCount++
	sess.lastCall = string(id)
	if sess.firstCall == "" {
		sess.firstCall = string(id)
	}
	sess.recordCall(in.Function, string(id), locals, globals)
	r.pending[id] = &callState{function: in.Function}
	return id, nil
}

// EndCall records function exit. The return value (or the failure) is
// staged immediately; the completion queues behind the call's earlier
// events. An id that was never issued here and does not exist in the
// store fails with UNKNOWN_CALL: that is a pairing bug in the
// instrumentation, not a recoverable condition.
func (r *Repository) EndCall(ctx context.Context, id CallID, in ReturnInput) error {
	if id == "" {
		return NewUnknownCallError("")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return NewClosedError()
	}
	_, known := r.pending[id]
	r.mu.Unlock()

	if !known {
		exists, err := r.store.HasCall(ctx, string(id))
		if err != nil {
			return fmt.Errorf("end call %s: %w", id, err)
		}
		if !exists {
			return NewUnknownCallError(string(id))
		}
	}

	comp := &completion{
		callID:   string(id),
		endTime:  r.now(),
		metadata: in.Metadata,
	}
	var objects []object.StoredObject
	var observations []observation
	if in.Err != nil {
		comp.exception = in.Err.Error()
		comp.stackTrace = in.StackTrace
	} else {
		key, objs, err := r.store.Stage(in.Value)
		if err != nil {
			r.log.Warn("could not store return value", "call", id, "error", err)
		} else {
			comp.returnKey = key
			objects = objs
			if handle, ok := identityOf(in.Value); ok {
				observations = append(observations, observation{handle: handle, key: key})
			}
		}
	}

	ev := event{kind: eventReturn, objects: objects, observations: observations, completion: comp}
	if !r.queue.TryEnqueue(ev) {
		r.stats.dropped.Add(1)
		// The pending entry survives, so a retry can complete the call.
		return NewQueueFullError("")
	}
	r.stats.enqueued.Add(1)

	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
	return nil
}

// RecordLine appends one frame snapshot to a pending call's chain,
// capturing the named variables at their current state. Snapshots form a
// doubly linked list in capture order.
func (r *Repository) RecordLine(ctx context.Context, id CallID, line int, locals, globals map[string]any) error {
	var objects []object.StoredObject
	var observations []observation
	localRefs := r.stageVars(locals, &objects, &observations)
	globalRefs := r.stageVars(globals, &objects, &observations)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return NewClosedError()
	}
	state, ok := r.pending[id]
	if !ok {
		return NewUnknownCallError(string(id))
	}

	snap := &object.StackSnapshot{
		ID:        r.ids.Generate(),
		CallID:    string(id),
		Line:      line,
		Locals:    localRefs,
		Globals:   globalRefs,
		Timestamp: r.now(),
		Position:  state.snapshots,
		PrevID:    state.lastSnapshot,
	}

	ev := event{kind: eventSnapshot, objects: objects, observations: observations, snapshot: snap}
	if !r.queue.TryEnqueue(ev) {
		r.stats.dropped.Add(1)
		return NewQueueFullError(state.function)
	}
	r.stats.enqueued.Add(1)

	state.snapshots++
	state.lastSnapshot = snap.ID
	return nil
}

// GetCall reads one persisted call. Events still in the queue are not
// visible; Flush first when read-your-writes matters.
// Returns sql.ErrNoRows if not found.
func (r *Repository) GetCall(ctx context.Context, id CallID) (object.FunctionCall, error) {
	return r.store.GetCall(ctx, string(id))
}

// CallHistory returns the ids of persisted calls in chronological order.
// An empty function matches every call.
func (r *Repository) CallHistory(ctx context.Context, function string) ([]CallID, error) {
	var calls []object.FunctionCall
	var err error
	if function == "" {
		calls, err = r.store.ListCalls(ctx)
	} else {
		calls, err = r.store.CallsByFunction(ctx, function)
	}
	if err != nil {
		return nil, fmt.Errorf("call history: %w", err)
	}

	ids := make([]CallID, len(calls))
	for i, c := range calls {
		ids[i] = CallID(c.ID)
	}
	return ids, nil
}

// DeleteCall flushes the pipeline, then removes the call, its snapshots
// and every object only it referenced. The active session also forgets
// the id, so a later EndSession does not resurrect it in the call lists.
func (r *Repository) DeleteCall(ctx context.Context, id CallID) (bool, error) {
	if err := r.Flush(ctx); err != nil {
		return false, fmt.Errorf("delete call %s: %w", id, err)
	}

	deleted, err := r.store.DeleteCall(ctx, string(id))
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	delete(r.pending, id)
	if r.session != nil {
		r.session.forget(string(id))
	}
	r.mu.Unlock()
	return deleted, nil
}

// Flush blocks until everything enqueued before it has been through a
// write attempt, or until ctx expires. A failing flush surfaces its
// error here; events the writer has already dropped are reported through
// Stats, not Flush.
func (r *Repository) Flush(ctx context.Context) error {
	b := &barrier{done: make(chan struct{})}
	if !r.queue.ForceEnqueue(event{kind: eventBarrier, barrier: b}) {
		return NewClosedError()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return b.err
	}
}

// Close stops accepting events, drains the queue through one final
// flush and stops the writer. Waits up to the context deadline, or a
// few seconds when the context has none. Close does not end the active
// session; call EndSession first for a complete session record.
func (r *Repository) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.queue.Close()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCloseTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.w.done:
		return nil
	}
}

// Stats reports the write-path counters.
func (r *Repository) Stats() Stats {
	return Stats{
		Enqueued: r.stats.enqueued.Load(),
		Dropped:  r.stats.dropped.Load(),
		Flushed:  r.stats.flushed.Load(),
	}
}

// stageVars stages each variable at its current state, collecting rows
// and identity observations. A variable whose staging fails is skipped
// with a warning; one bad variable never costs the call.
func (r *Repository) stageVars(vars map[string]any, objects *[]object.StoredObject, observations *[]observation) map[string]object.Key {
	refs := make(map[string]object.Key, len(vars))
	for name, value := range vars {
		key, objs, err := r.store.Stage(value)
		if err != nil {
			r.log.Warn("could not store variable", "name", name, "error", err)
			continue
		}
		refs[name] = key
		*objects = append(*objects, objs...)
		if handle, ok := identityOf(value); ok {
			*observations = append(*observations, observation{handle: handle, key: key})
		}
	}
	return refs
}

// identityOf derives the version-chain handle for a live value. Only
// pointers, maps and slices carry runtime identity; everything else is
// tracked by content alone.
func identityOf(value any) (string, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return "", false
		}
		return fmt.Sprintf("%T@0x%x", value, rv.Pointer()), true
	}
	return "", false
}
