package capture

import (
	"sync"
	"time"

	"github.com/roach88/retrace/internal/object"
)

// eventKind distinguishes between write event kinds.
type eventKind int

const (
	// eventCall carries a call row created at function entry.
	eventCall eventKind = iota + 1
	// eventReturn carries the completion of a pending call.
	eventReturn
	// eventSnapshot carries one line-level frame snapshot.
	eventSnapshot
	// eventBarrier carries no data; the writer releases it after
	// attempting to persist everything enqueued before it.
	eventBarrier
)

// observation is one staged identity-chain update: the content under key
// was the state of the runtime identity named by handle.
type observation struct {
	handle string
	key    object.Key
}

// completion carries the return-time fields of a call.
type completion struct {
	callID     string
	endTime    time.Time
	returnKey  object.Key
	exception  string
	stackTrace string
	metadata   map[string]string
}

// barrier lets Flush and Close wait for the writer to catch up. The
// writer closes done once everything queued before the barrier has been
// through a flush attempt; err holds that flush's error, if any.
type barrier struct {
	done chan struct{}
	err  error
}

// event is one unit of work for the background writer. Staged objects
// and observations were computed on the hook thread, so the writer
// persists the state values had at the moment of capture regardless of
// when the flush happens.
type event struct {
	kind         eventKind
	objects      []object.StoredObject
	observations []observation

	call     *object.FunctionCall // eventCall
	linkFrom string               // eventCall: predecessor in the session chain

	completion *completion           // eventReturn
	snapshot   *object.StackSnapshot // eventSnapshot
	barrier    *barrier              // eventBarrier
}

// eventQueue is a thread-safe bounded FIFO queue feeding the background
// writer.
//
// The queue is bounded because the producers are instrumentation hooks
// inside the monitored program: when the writer falls behind, enqueuing
// must fail fast rather than block or grow without limit. Backpressure
// surfaces to the caller as a refused event, never as waiting.
//
// The queue uses a channel for signaling so the writer can wait without
// polling; the buffered size-1 channel coalesces repeated signals.
type eventQueue struct {
	mu       sync.Mutex
	events   []event
	capacity int
	closed   bool
	signal   chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty queue holding at most capacity events.
func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		events:   make([]event, 0, 64), // Pre-allocate for typical workloads
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// TryEnqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine. Never blocks.
// Returns false if the queue is full or closed.
func (q *eventQueue) TryEnqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.events) >= q.capacity {
		return false
	}

	q.events = append(q.events, e)
	q.signalLocked()
	return true
}

// ForceEnqueue adds a control event past the capacity limit. Barriers
// must reach the writer even when the data queue is saturated, otherwise
// Flush could never report on a struggling pipeline.
// Returns false if the queue is closed.
func (q *eventQueue) ForceEnqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)
	q.signalLocked()
	return true
}

// signalLocked flags availability without blocking; the buffer of 1
// coalesces multiple signals. Callers hold q.mu.
func (q *eventQueue) signalLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain the event's
	// staged objects until reallocated.
	q.events[0] = event{}

	if len(q.events) == 1 {
		// Last element - reset to empty slice with original capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting; the channel closes when the
// queue closes, so waiters always wake for shutdown.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
