package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// Write-path tuning: small batches flushed at least once a second, a
// short bounded backoff inside a failing flush, and a hard drop after
// repeated consecutive failures so memory stays bounded.
const (
	defaultQueueSize     = 1000
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultCloseTimeout  = 5 * time.Second

	flushRetries      = 3
	retryBackoff      = 50 * time.Millisecond
	dropAfterFailures = 10

	// Log throttling for persistent write failures: the first few are
	// logged in full, afterwards only every hundredth.
	logFailureLimit    = 5
	logFailureInterval = 100
)

// counters aggregates the write-path visibility numbers behind Stats.
type counters struct {
	enqueued atomic.Int64
	dropped  atomic.Int64
	flushed  atomic.Int64
}

// writer is the single background goroutine that owns every row write.
// It drains the queue into a buffer and flushes when the buffer reaches
// batchSize, a barrier arrives, or flushInterval elapses with buffered
// events.
//
// Failure policy: a flush retries in place with doubling backoff; a
// flush that still fails keeps its buffer for the next interval. Once
// dropAfterFailures consecutive flushes have failed, each further failed
// flush drops its buffer until a write succeeds again. Recording loses
// data under a broken store, the monitored program keeps running.
type writer struct {
	store *store.Store
	queue *eventQueue
	log   *slog.Logger
	stats *counters

	batchSize     int
	flushInterval time.Duration

	buffer   []event
	failures int // consecutive failed flushes, reset on success
	done     chan struct{}
}

func newWriter(s *store.Store, q *eventQueue, log *slog.Logger, stats *counters, batchSize int, interval time.Duration) *writer {
	return &writer{
		store:         s,
		queue:         q,
		log:           log,
		stats:         stats,
		batchSize:     batchSize,
		flushInterval: interval,
		buffer:        make([]event, 0, batchSize),
		done:          make(chan struct{}),
	}
}

// run is the writer loop, started once by New. It exits after the queue
// is closed and everything still queued has been through a final flush
// attempt.
func (w *writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		barrier := w.fill()

		if len(w.buffer) >= w.batchSize || barrier {
			if w.flush() {
				continue
			}
			// Fall through and wait out the interval before retrying a
			// failing store.
		}

		if w.queue.Closed() && w.queue.Len() == 0 {
			w.flush()
			if n := len(w.buffer); n > 0 {
				w.log.Error("discarding unwritten events at shutdown", "events", n)
				w.stats.dropped.Add(int64(n))
				w.clearBuffer()
			}
			return
		}

		select {
		case <-ticker.C:
			if len(w.buffer) > 0 {
				w.flush()
			}
		case <-w.queue.Wait():
		}
	}
}

// fill moves queued events into the buffer up to one full batch. Reports
// whether a barrier arrived, which forces an immediate flush.
func (w *writer) fill() bool {
	barrier := false
	for len(w.buffer) < w.batchSize {
		ev, ok := w.queue.TryDequeue()
		if !ok {
			break
		}
		if ev.kind == eventBarrier {
			barrier = true
		}
		w.buffer = append(w.buffer, ev)
	}
	return barrier
}

// flush writes the buffered events through the store, retrying in place
// with doubling backoff. On success the buffer resets; on failure it is
// kept for the next attempt, unless the writer is already past
// dropAfterFailures. Barriers are always released, carrying the flush
// error when there was one. Returns true on success.
func (w *writer) flush() bool {
	if len(w.buffer) == 0 {
		return true
	}

	err := w.applyAll()
	for attempt := 1; err != nil && attempt < flushRetries; attempt++ {
		time.Sleep(retryBackoff << (attempt - 1))
		err = w.applyAll()
	}

	w.releaseBarriers(err)

	if err == nil {
		w.stats.flushed.Add(int64(len(w.buffer)))
		w.clearBuffer()
		w.failures = 0
		return true
	}

	w.failures++
	w.logFlushError(err)

	if w.failures >= dropAfterFailures {
		w.log.Error("dropping capture batch after repeated write failures",
			"events", len(w.buffer), "consecutive_failures", w.failures)
		w.stats.dropped.Add(int64(len(w.buffer)))
		w.clearBuffer()
	}
	return false
}

// applyAll writes every buffered event in order. Events are individually
// idempotent (conflict-free inserts, latest-only chain appends, guarded
// updates), so re-running a batch that partially succeeded converges
// instead of duplicating rows.
func (w *writer) applyAll() error {
	ctx := context.Background()
	for _, ev := range w.buffer {
		if err := w.apply(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// apply writes one event. Ordering inside an event matters: object rows
// first, then the chain observations referencing them, then the record
// row pointing at the objects.
func (w *writer) apply(ctx context.Context, ev event) error {
	if ev.kind == eventBarrier {
		return nil
	}

	if err := w.store.PutObjects(ctx, ev.objects); err != nil {
		return err
	}
	for _, obs := range ev.observations {
		if err := w.store.Observe(ctx, obs.handle, obs.key); err != nil {
			return err
		}
	}

	switch ev.kind {
	case eventCall:
		if err := w.store.InsertCall(ctx, *ev.call); err != nil {
			return err
		}
		if ev.linkFrom != "" {
			if err := w.store.LinkNextCall(ctx, ev.linkFrom, ev.call.ID); err != nil {
				return err
			}
		}
		return nil

	case eventReturn:
		c := ev.completion
		done, err := w.store.CompleteCall(ctx, object.FunctionCall{
			ID:          c.callID,
			EndTime:     c.endTime,
			ReturnValue: c.returnKey,
			Exception:   c.exception,
			StackTrace:  c.stackTrace,
		})
		if err != nil {
			return err
		}
		if !done {
			// Already completed by an earlier attempt of this batch, or
			// the call row was deleted. The metadata merge below still
			// applies where the row survives.
			w.log.Debug("completion found no pending call", "call", c.callID)
		}
		return w.store.MergeCallMetadata(ctx, c.callID, c.metadata)

	case eventSnapshot:
		snap := *ev.snapshot
		if err := w.store.InsertSnapshot(ctx, snap); err != nil {
			return err
		}
		if snap.PrevID == "" {
			return w.store.SetFirstSnapshot(ctx, snap.CallID, snap.ID)
		}
		return w.store.LinkNextSnapshot(ctx, snap.PrevID, snap.ID)
	}
	return fmt.Errorf("unknown event kind %d", ev.kind)
}

// releaseBarriers signals every barrier in the buffer with the outcome
// of this flush attempt and removes them; data events stay for retry.
func (w *writer) releaseBarriers(err error) {
	kept := w.buffer[:0]
	for _, ev := range w.buffer {
		if ev.kind == eventBarrier {
			ev.barrier.err = err
			close(ev.barrier.done)
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(w.buffer); i++ {
		w.buffer[i] = event{}
	}
	w.buffer = kept
}

// clearBuffer resets the buffer, zeroing slots so the backing array does
// not pin staged objects.
func (w *writer) clearBuffer() {
	for i := range w.buffer {
		w.buffer[i] = event{}
	}
	w.buffer = w.buffer[:0]
}

// logFlushError logs persistent write failures without flooding the log.
func (w *writer) logFlushError(err error) {
	if w.failures <= logFailureLimit || w.failures%logFailureInterval == 0 {
		w.log.Error("capture flush failed",
			"error", err, "events", len(w.buffer), "consecutive_failures", w.failures)
	}
}
