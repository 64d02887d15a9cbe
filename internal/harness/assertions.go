package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// AssertionContext carries what assertion evaluation needs: the store
// the scenario wrote into and the session it recorded.
type AssertionContext struct {
	Ctx       context.Context
	Store     *store.Store
	SessionID string
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. An empty slice means all assertions held.
func EvaluateAssertions(actx *AssertionContext, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(actx, i, a); msg != "" {
			failures = append(failures, msg)
		}
	}
	return failures
}

func evaluateAssertion(actx *AssertionContext, index int, a Assertion) string {
	switch a.Type {
	case AssertCallCount:
		return assertCallCount(actx, index, a)
	case AssertCallOrder:
		return assertCallOrder(actx, index, a)
	case AssertPaired:
		return assertPaired(actx, index)
	case AssertBranchCount:
		return assertBranchCount(actx, index, a)
	case AssertSessionCount:
		return assertSessionCount(actx, index, a)
	default:
		return fmt.Sprintf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}

// assertCallCount checks that a function was recorded exactly Count
// times within the scenario's session.
func assertCallCount(actx *AssertionContext, index int, a Assertion) string {
	calls, err := sessionCalls(actx)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: %v", index, err)
	}
	count := 0
	for _, c := range calls {
		if c.Function == a.Function {
			count++
		}
	}
	if count != a.Count {
		return fmt.Sprintf("assertions[%d]: call_count: expected %d calls of %s, found %d", index, a.Count, a.Function, count)
	}
	return ""
}

// assertCallOrder checks that the session contains calls of the given
// functions in order. Other calls may interleave; the named ones must
// appear as a subsequence.
func assertCallOrder(actx *AssertionContext, index int, a Assertion) string {
	calls, err := sessionCalls(actx)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: %v", index, err)
	}
	next := 0
	for _, c := range calls {
		if next < len(a.Functions) && c.Function == a.Functions[next] {
			next++
		}
	}
	if next != len(a.Functions) {
		recorded := make([]string, len(calls))
		for i, c := range calls {
			recorded[i] = c.Function
		}
		return fmt.Sprintf("assertions[%d]: call_order: expected order [%s], session recorded [%s]",
			index, strings.Join(a.Functions, ", "), strings.Join(recorded, ", "))
	}
	return ""
}

// assertPaired checks that every call in the session reached a terminal
// outcome. A pending call after the session ended is a pairing bug.
func assertPaired(actx *AssertionContext, index int) string {
	calls, err := sessionCalls(actx)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: %v", index, err)
	}
	for _, c := range calls {
		if !c.Completed() {
			return fmt.Sprintf("assertions[%d]: paired: call %s (%s) never completed", index, c.ID, c.Function)
		}
	}
	return ""
}

// assertBranchCount checks the number of branch roots across the whole
// store, which is where recorded replays land.
func assertBranchCount(actx *AssertionContext, index int, a Assertion) string {
	calls, err := actx.Store.ListCalls(actx.Ctx)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: %v", index, err)
	}
	count := 0
	for _, c := range calls {
		if c.BranchedFrom != "" {
			count++
		}
	}
	if count != a.Count {
		return fmt.Sprintf("assertions[%d]: branch_count: expected %d branch roots, found %d", index, a.Count, count)
	}
	return ""
}

// assertSessionCount checks the total number of sessions, recorded and
// branch sessions included.
func assertSessionCount(actx *AssertionContext, index int, a Assertion) string {
	sessions, err := actx.Store.ListSessions(actx.Ctx)
	if err != nil {
		return fmt.Sprintf("assertions[%d]: %v", index, err)
	}
	if len(sessions) != a.Count {
		return fmt.Sprintf("assertions[%d]: session_count: expected %d sessions, found %d", index, a.Count, len(sessions))
	}
	return ""
}

func sessionCalls(actx *AssertionContext) ([]object.FunctionCall, error) {
	if actx.SessionID == "" {
		return nil, fmt.Errorf("no recorded session")
	}
	return actx.Store.CallsBySession(actx.Ctx, actx.SessionID)
}
