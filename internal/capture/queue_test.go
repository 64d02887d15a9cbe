package capture

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/object"
)

func callEvent(id string) event {
	return event{kind: eventCall, call: &object.FunctionCall{ID: id}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue(8)

	require.True(t, q.TryEnqueue(callEvent("a")))
	assert.Equal(t, 1, q.Len())

	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", e.call.ID)
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue(16)
	for i := 0; i < 10; i++ {
		require.True(t, q.TryEnqueue(callEvent(fmt.Sprintf("ev-%d", i))))
	}

	for i := 0; i < 10; i++ {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("ev-%d", i), e.call.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_TryDequeueEmpty(t *testing.T) {
	q := newEventQueue(4)
	e, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.Nil(t, e.call)
}

func TestEventQueue_RefusesWhenFull(t *testing.T) {
	q := newEventQueue(2)
	require.True(t, q.TryEnqueue(callEvent("a")))
	require.True(t, q.TryEnqueue(callEvent("b")))

	assert.False(t, q.TryEnqueue(callEvent("c")))
	assert.Equal(t, 2, q.Len())

	// Draining one slot makes room again.
	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.TryEnqueue(callEvent("c")))
}

func TestEventQueue_ForceEnqueuePastCapacity(t *testing.T) {
	q := newEventQueue(1)
	require.True(t, q.TryEnqueue(callEvent("data")))
	require.False(t, q.TryEnqueue(callEvent("refused")))

	// Control events must reach the writer even through a full queue.
	b := &barrier{done: make(chan struct{})}
	require.True(t, q.ForceEnqueue(event{kind: eventBarrier, barrier: b}))
	assert.Equal(t, 2, q.Len())

	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, eventCall, e.kind)
	e, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, eventBarrier, e.kind)
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue(4)
	require.True(t, q.TryEnqueue(callEvent("before")))

	q.Close()
	assert.True(t, q.Closed())
	assert.False(t, q.TryEnqueue(callEvent("after")))
	assert.False(t, q.ForceEnqueue(event{kind: eventBarrier, barrier: &barrier{done: make(chan struct{})}}))

	// Events enqueued before the close stay dequeueable.
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "before", e.call.ID)

	// Close is idempotent.
	q.Close()
	assert.True(t, q.Closed())
}

func TestEventQueue_WaitSignalsEnqueue(t *testing.T) {
	q := newEventQueue(4)

	select {
	case <-q.Wait():
		t.Fatal("wait fired on an empty queue")
	default:
	}

	require.True(t, q.TryEnqueue(callEvent("a")))
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("enqueue did not signal the waiter")
	}
}

func TestEventQueue_WaitWakesOnClose(t *testing.T) {
	q := newEventQueue(4)
	done := make(chan struct{})

	go func() {
		<-q.Wait()
		close(done)
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not wake the waiter")
	}
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 50
	q := newEventQueue(producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.TryEnqueue(callEvent(fmt.Sprintf("%d-%d", p, i))) {
					t.Errorf("producer %d refused below capacity", p)
				}
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Len())
	drained := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		drained++
	}
	assert.Equal(t, producers*perProducer, drained)
}
