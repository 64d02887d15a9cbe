// Package replay reanimates recorded executions.
//
// # Model
//
// A recorded call is replayed in four steps, tracked by the State
// machine (Pending -> Reconstructing -> Invoking -> Committed/Failed):
//
//  1. Load the call and resolve its function through the Registry. Go
//     has no importable module namespace, so every function replay may
//     re-invoke must be registered by its recorded name, together with
//     its declared parameter names.
//  2. Rebuild only the true call parameters from the captured locals.
//     Body-local variables captured alongside them are never passed
//     back in.
//  3. Inject recorded globals through their bindings, except names the
//     caller chose to ignore, which keep their live values. Install mock
//     stubs for names the caller chose to mock; a stub returns the
//     results the mocked function produced for the original call, in
//     recorded order, and falls through to the real function when the
//     recording runs out.
//  4. Invoke, recover panics as the call's exception outcome, and
//     optionally record the re-execution as a branch: a new call whose
//     branched_from points at the original, written under a branch
//     session through the ordinary capture write path.
//
// ReplaySequence extends this to every subsequent call of the
// originating session, relinking the new calls with next_call_id and
// retaining partial branches when a call fails mid-sequence.
//
// # Concurrency
//
// The engine reads committed rows only, so it can run concurrently with
// an active capture pipeline. Invocation has no internal cancellation
// point: the target runs to completion, and callers needing timeouts
// must wrap the whole ExecuteCall/ReplaySequence invocation.
package replay
