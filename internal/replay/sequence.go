package replay

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/object"
)

// ReplaySequence replays a recorded call and then every subsequent call
// of its originating session, in order_in_session order.
//
// With WithRecord the new calls are written under a dedicated branch
// session, linked to each other via next_call_id and to the original
// sequence by a single branched_from at the branch root. Recording
// requires no other session to be active. Returns the new branch root's
// id, or empty when the replay was not recording.
//
// A failing call aborts the remainder with ReplayAborted; calls already
// replayed stay recorded (partial branches are retained for inspection,
// not rolled back).
func (e *Engine) ReplaySequence(ctx context.Context, startCallID string, opts ...CallOption) (string, error) {
	return e.replayRange(ctx, startCallID, "", opts...)
}

// ReplaySubsequence is ReplaySequence bounded to the inclusive range
// [startCallID, endCallID] by order_in_session. Both calls must belong
// to the same session.
func (e *Engine) ReplaySubsequence(ctx context.Context, startCallID, endCallID string, opts ...CallOption) (string, error) {
	if endCallID == "" {
		return "", fmt.Errorf("replay subsequence: empty end call id")
	}
	return e.replayRange(ctx, startCallID, endCallID, opts...)
}

func (e *Engine) replayRange(ctx context.Context, startCallID, endCallID string, opts ...CallOption) (string, error) {
	cfg := newCallConfig(opts)

	start, err := e.loadCall(ctx, startCallID)
	if err != nil {
		return "", err
	}

	var endOrder int64 = math.MaxInt64
	if endCallID != "" {
		end, err := e.loadCall(ctx, endCallID)
		if err != nil {
			return "", err
		}
		if end.SessionID != start.SessionID {
			return "", fmt.Errorf("replay subsequence: calls %s and %s belong to different sessions", startCallID, endCallID)
		}
		if end.OrderInSession < start.OrderInSession {
			return "", fmt.Errorf("replay subsequence: end call %s precedes start call %s", endCallID, startCallID)
		}
		endOrder = end.OrderInSession
	}

	sequence, err := e.sessionRange(ctx, start, endOrder)
	if err != nil {
		return "", err
	}

	if cfg.record {
		// Branches always record into their own session. A fresh session
		// has no last call, so the branch root cannot inherit a
		// next_call_id link from earlier unrelated recording, and the
		// session's own call chaining links the branch calls in order.
		if id, active := e.repo.ActiveSession(); active {
			return "", fmt.Errorf("replay sequence: session %s is recording; end it before recording a branch", id)
		}
		endSession, err := e.startBranchSession(ctx, start.ID)
		if err != nil {
			return "", err
		}
		defer endSession(ctx)
	}

	var rootID string
	for i, call := range sequence {
		if err := ctx.Err(); err != nil {
			return "", NewReplayAbortedError(call.ID, rootID, err)
		}

		// Only the branch root links back to the original sequence.
		var branchedFrom capture.CallID
		if i == 0 {
			branchedFrom = capture.CallID(start.ID)
		}

		outcome, err := e.executeOne(ctx, call, cfg, branchedFrom)
		if err != nil {
			return "", NewReplayAbortedError(call.ID, rootID, err)
		}
		if i == 0 {
			rootID = outcome.BranchID
		}
		if outcome.Exception != "" {
			// The panicking call is already recorded with its exception;
			// the rest of the sequence does not run.
			return "", NewReplayAbortedError(call.ID, rootID, fmt.Errorf("target panicked: %s", outcome.Exception))
		}
	}
	return rootID, nil
}

// sessionRange collects the calls of start's session whose order lies in
// [start.OrderInSession, endOrder], in session order.
func (e *Engine) sessionRange(ctx context.Context, start object.FunctionCall, endOrder int64) ([]object.FunctionCall, error) {
	all, err := e.st.CallsBySession(ctx, start.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s calls: %w", start.SessionID, err)
	}
	var out []object.FunctionCall
	for _, call := range all {
		if call.OrderInSession < start.OrderInSession || call.OrderInSession > endOrder {
			continue
		}
		out = append(out, call)
	}
	return out, nil
}
