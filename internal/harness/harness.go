package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/replay"
	"github.com/roach88/retrace/internal/store"
	"github.com/roach88/retrace/internal/testutil"
)

// Harness executes one scenario against a fresh in-memory store.
type Harness struct {
	store  *store.Store
	repo   *capture.Repository
	demo   *Demo
	engine *replay.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns its result.
//
// Each scenario runs in a fresh in-memory database with a frozen clock
// and sequential record ids, so two runs of the same scenario produce
// byte-identical traces.
//
// Execution flow:
// 1. Open an in-memory store with deterministic helpers
// 2. Record the scenario's calls in one session through the demo functions
// 3. Replay the selected calls and validate expect clauses
// 4. Evaluate assertions against the store
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// One frozen clock stamps calls and staged object rows alike, so the
	// whole recorded database is deterministic.
	clock := testutil.NewFrozenClock()
	st, err := store.Open(":memory:",
		store.WithLogger(logger),
		store.WithNow(clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	repo := capture.New(st,
		capture.WithLogger(logger),
		capture.WithNow(clock.Now),
		capture.WithIDGenerator(testutil.NewSequentialIDs()),
		capture.WithFlushInterval(5*time.Millisecond),
	)
	defer repo.Close(ctx)

	demo, err := NewDemo(ctx, repo, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up demo functions: %w", err)
	}
	if scenario.Greeting != "" {
		demo.SetGreeting(scenario.Greeting)
	}
	if len(scenario.Rolls) > 0 {
		demo.FixRolls(scenario.Rolls...)
	} else {
		// Default cycle keeps dice-using scenarios deterministic even
		// when they forget to pin rolls.
		demo.FixRolls(3, 5, 2, 6)
	}

	h := &Harness{
		store:  st,
		repo:   repo,
		demo:   demo,
		engine: replay.New(repo, demo.Registry(), replay.WithLogger(logger)),
		logger: logger,
	}

	result := NewResult()
	if err := h.executeRecord(ctx, scenario, result); err != nil {
		return nil, err
	}
	if err := h.executeReplay(ctx, scenario, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Ctx:       ctx,
		Store:     st,
		SessionID: result.SessionID,
	}
	for _, msg := range EvaluateAssertions(actx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeRecord captures the scenario's calls in one session.
func (h *Harness) executeRecord(ctx context.Context, scenario *Scenario, result *Result) error {
	if _, err := h.repo.StartSession(ctx, capture.SessionInput{
		Name:        scenario.Name,
		Description: scenario.Description,
	}); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	for i, step := range scenario.Record {
		value, err := h.demo.Call(step.Call, step.Args)
		if err != nil {
			return fmt.Errorf("record step %d: %w", i, err)
		}
		result.AddCallTrace(step.Call, step.Args, value)
	}

	sessionID, err := h.repo.EndSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	result.SessionID = sessionID
	return nil
}

// executeReplay re-executes the selected calls and validates expect
// clauses. Replay errors with an expect clause are outcomes to match,
// not harness failures.
func (h *Harness) executeReplay(ctx context.Context, scenario *Scenario, result *Result) error {
	if len(scenario.Replay) == 0 {
		return nil
	}

	calls, err := h.store.CallsBySession(ctx, result.SessionID)
	if err != nil {
		return fmt.Errorf("failed to list recorded calls: %w", err)
	}

	for i, step := range scenario.Replay {
		callID, ok := resolveCall(calls, step.Call, step.Index)
		if !ok {
			return fmt.Errorf("replay step %d: no recorded call %q at index %d", i, step.Call, step.Index)
		}

		opts := replayOptions(step)
		if step.Sequence {
			rootID, err := h.engine.ReplaySequence(ctx, callID, opts...)
			h.validateSequence(i, step, rootID, err, result)
			continue
		}

		outcome, err := h.engine.ExecuteCall(ctx, callID, opts...)
		if err != nil && step.Expect == nil {
			return fmt.Errorf("replay step %d: %w", i, err)
		}
		result.AddReplayTrace(step.Call, string(outcome.State), outcome.Value, outcome.Exception)
		h.validateOutcome(i, step, outcome, err, result)
	}
	return nil
}

func (h *Harness) validateOutcome(i int, step ReplayStep, outcome replay.Outcome, err error, result *Result) {
	if step.Expect == nil {
		return
	}
	if got := string(outcome.State); got != step.Expect.State {
		msg := fmt.Sprintf("replay[%d]: expected state %q, got %q", i, step.Expect.State, got)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
		return
	}
	if step.Expect.Value != nil && !looselyEqual(outcome.Value, step.Expect.Value) {
		result.AddError(fmt.Sprintf("replay[%d]: expected value %v, got %v", i, step.Expect.Value, outcome.Value))
	}
	if step.Expect.Exception != "" && !strings.Contains(outcome.Exception, step.Expect.Exception) {
		result.AddError(fmt.Sprintf("replay[%d]: expected exception containing %q, got %q", i, step.Expect.Exception, outcome.Exception))
	}
}

func (h *Harness) validateSequence(i int, step ReplayStep, rootID string, err error, result *Result) {
	state := string(replay.StateCommitted)
	if err != nil {
		state = string(replay.StateFailed)
		if replay.IsReplayAborted(err) {
			state = "aborted"
		}
	}
	result.AddReplayTrace(step.Call, state, nil, "")

	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("replay[%d]: sequence failed: %v", i, err))
		}
		return
	}
	if state != step.Expect.State {
		result.AddError(fmt.Sprintf("replay[%d]: expected state %q, got %q", i, step.Expect.State, state))
	}
	if step.Record && err == nil && rootID == "" {
		result.AddError(fmt.Sprintf("replay[%d]: recorded sequence produced no branch root", i))
	}
}

func replayOptions(step ReplayStep) []replay.CallOption {
	var opts []replay.CallOption
	if len(step.IgnoreGlobals) > 0 {
		opts = append(opts, replay.WithIgnoreGlobals(step.IgnoreGlobals...))
	}
	if len(step.Mocks) > 0 {
		opts = append(opts, replay.WithMocks(step.Mocks...))
	}
	if step.Record {
		opts = append(opts, replay.WithRecord())
	}
	return opts
}

// resolveCall finds the nth recorded occurrence of a function in
// session order.
func resolveCall(calls []object.FunctionCall, function string, index int) (string, bool) {
	seen := 0
	for _, c := range calls {
		if c.Function != function {
			continue
		}
		if seen == index {
			return c.ID, true
		}
		seen++
	}
	return "", false
}

// looselyEqual compares a live return value against a YAML-parsed
// expectation. Numeric widths differ between the two sides, so
// comparison goes through the printed form.
func looselyEqual(got, want any) bool {
	return fmt.Sprint(got) == fmt.Sprint(want)
}
