// Package capture records live function executions into the store.
//
// The package has three layers:
//   - Hook: the narrow boundary instrumented code records through
//     (OnCall / OnReturn / OnLine)
//   - Repository: sessions, call pairing, and the asynchronous write
//     path behind every recorded event
//   - Monitor: the in-process adapter with the call stack, per-target
//     configuration, source snapshotting and metadata hooks
//
// # Critical Patterns
//
// CP-1: Capture-Time State
//   - Values are decomposed into content-addressed rows on the hook
//     thread, before BeginCall/EndCall/RecordLine return; the recording
//     holds the state values had when the hook fired, not when the
//     rows were flushed
//
// CP-2: Single Background Writer
//   - Exactly one goroutine applies events to the database, in queue
//     order; hooks never perform I/O
//
// CP-3: Never Block the Program
//   - The write queue is bounded and TryEnqueue refuses rather than
//     waits; a refused event is dropped and reported as QUEUE_FULL
//
// CP-4: Bounded Loss Under Failure
//   - A failing flush retries with short backoff, keeps its batch for
//     the next interval, and drops it after repeated consecutive
//     failures; recording degrades to data loss, never to a stalled or
//     crashed program
//
// Session rows are the one synchronous write: StartSession persists the
// row before any call can reference its id. Everything else flows
// through the writer.
package capture
