package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// Engine reanimates recorded calls: it reconstructs their arguments and
// globals from the store, re-invokes the registered target, and
// optionally records the re-execution as a branch through the capture
// repository.
//
// Reads go straight to the store and only ever see committed rows;
// branch writes go through the repository's write path like any other
// capture.
type Engine struct {
	repo *capture.Repository
	st   *store.Store
	reg  *Registry
	log  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine replaying records through repo, resolving
// targets from reg.
func New(repo *capture.Repository, reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		repo: repo,
		st:   repo.Store(),
		reg:  reg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// CallOption configures one replay.
type CallOption func(*callConfig)

type callConfig struct {
	ignore map[string]bool
	mocks  []string
	record bool
}

// WithIgnoreGlobals leaves the named globals at their current live
// values instead of injecting the recorded ones. Replay proceeds without
// that part of the recorded state, which is exactly how divergence
// between then and now is exposed.
func WithIgnoreGlobals(names ...string) CallOption {
	return func(c *callConfig) {
		if c.ignore == nil {
			c.ignore = make(map[string]bool, len(names))
		}
		for _, n := range names {
			c.ignore[n] = true
		}
	}
}

// WithMocks replaces the named mockable functions with stubs returning
// their originally recorded results, making replay of code that depends
// on nondeterministic or external calls deterministic.
func WithMocks(names ...string) CallOption {
	return func(c *callConfig) { c.mocks = append(c.mocks, names...) }
}

// WithRecord records the re-execution as a new branch call linked to the
// original via branched_from.
func WithRecord() CallOption {
	return func(c *callConfig) { c.record = true }
}

func newCallConfig(opts []CallOption) callConfig {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Outcome is the result of one replayed call.
type Outcome struct {
	// State is the terminal lifecycle state.
	State State `json:"state"`

	// CallID is the original recorded call.
	CallID string `json:"call_id"`

	// BranchID is the new branch call, when the replay recorded one.
	BranchID string `json:"branch_id,omitempty"`

	// Value is what the re-invocation returned. Functions with several
	// return values yield a []any in declaration order.
	Value any `json:"value,omitempty"`

	// Exception carries a recovered panic from the target, empty when
	// the target returned normally. A panicking target still commits:
	// the panic is the outcome.
	Exception string `json:"exception,omitempty"`
}

// ExecuteCall replays one recorded call.
//
// The recorded arguments are rebuilt from the function's declared
// parameter names, recorded globals are injected except those ignored,
// and requested mocks are installed for the duration of the invocation.
// With WithRecord the re-execution is captured as a branch call whose
// branched_from is the original id; when no session is recording, a
// fresh branch session is opened around it.
func (e *Engine) ExecuteCall(ctx context.Context, callID string, opts ...CallOption) (Outcome, error) {
	cfg := newCallConfig(opts)
	outcome := Outcome{CallID: callID, State: StatePending}

	call, err := e.loadCall(ctx, callID)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	if cfg.record {
		endSession, err := e.ensureSession(ctx, call.ID)
		if err != nil {
			outcome.State = StateFailed
			return outcome, err
		}
		defer endSession(ctx)
	}

	return e.executeOne(ctx, call, cfg, capture.CallID(call.ID))
}

// executeOne runs the replay state machine for one already-loaded call.
// branchedFrom is the original call a recorded branch root links to;
// subsequent calls of a sequence pass empty and rely on next_call_id.
func (e *Engine) executeOne(ctx context.Context, call object.FunctionCall, cfg callConfig, branchedFrom capture.CallID) (Outcome, error) {
	outcome := Outcome{CallID: call.ID, State: StateReconstructing}

	target, ok := e.reg.target(call.Function)
	if !ok {
		outcome.State = StateFailed
		return outcome, NewTargetUnresolvableError(call.ID, call.Function)
	}

	args, locals, err := e.reconstructArgs(ctx, call, target)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	globals, err := e.applyGlobals(ctx, call, cfg.ignore)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	restoreMocks, err := e.installMocks(ctx, call, cfg.mocks)
	if err != nil {
		outcome.State = StateFailed
		return outcome, err
	}
	defer restoreMocks()

	if err := ctx.Err(); err != nil {
		outcome.State = StateFailed
		return outcome, err
	}

	// No cancellation point beyond here: the target runs to completion.
	outcome.State = StateInvoking
	e.log.Debug("invoking replay target", "call_id", call.ID, "function", call.Function)
	value, panicErr, stack := invoke(target.fn, args)

	outcome.State = StateCommitted
	outcome.Value = value
	if panicErr != nil {
		outcome.Exception = panicErr.Error()
	}

	if cfg.record {
		branchID, err := e.recordBranch(ctx, call, branchedFrom, locals, globals, value, panicErr, stack)
		if err != nil {
			return outcome, fmt.Errorf("record branch of %s: %w", call.ID, err)
		}
		outcome.BranchID = string(branchID)
	}
	return outcome, nil
}

// recordBranch captures the re-execution as a new call through the
// repository and flushes it, so branch rows are durable before the
// replay returns.
func (e *Engine) recordBranch(ctx context.Context, call object.FunctionCall, branchedFrom capture.CallID, locals, globals map[string]any, value any, panicErr error, stack string) (capture.CallID, error) {
	id, err := e.repo.BeginCall(ctx, capture.CallInput{
		Function:         call.Function,
		File:             call.File,
		Line:             call.Line,
		Locals:           locals,
		Globals:          globals,
		BranchedFrom:     branchedFrom,
		CodeDefinitionID: call.CodeDefinitionID,
		Metadata:         map[string]string{"replay_of": call.ID},
	})
	if err != nil {
		return "", err
	}

	ret := capture.ReturnInput{Value: value}
	if panicErr != nil {
		ret = capture.ReturnInput{Err: panicErr, StackTrace: stack}
	}
	if err := e.repo.EndCall(ctx, id, ret); err != nil {
		return "", err
	}
	if err := e.repo.Flush(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// ensureSession makes sure a session is recording for branch writes. An
// already-active session is used as is; otherwise a branch session named
// after the root call is opened, and the returned function closes it.
func (e *Engine) ensureSession(ctx context.Context, rootCallID string) (func(context.Context), error) {
	if _, active := e.repo.ActiveSession(); active {
		return func(context.Context) {}, nil
	}
	return e.startBranchSession(ctx, rootCallID)
}

// startBranchSession opens a branch session named after the root call.
// The returned function closes it.
func (e *Engine) startBranchSession(ctx context.Context, rootCallID string) (func(context.Context), error) {
	name := "branch:" + shortID(rootCallID)
	if _, err := e.repo.StartSession(ctx, capture.SessionInput{
		Name:     name,
		Metadata: map[string]string{"branch_of": rootCallID},
	}); err != nil {
		return nil, fmt.Errorf("start branch session: %w", err)
	}
	return func(ctx context.Context) {
		if _, err := e.repo.EndSession(ctx); err != nil {
			e.log.Warn("end branch session failed", "session", name, "error", err)
		}
	}, nil
}

// loadCall reads a call row, mapping a missing row to CallNotFound.
func (e *Engine) loadCall(ctx context.Context, callID string) (object.FunctionCall, error) {
	call, err := e.st.GetCall(ctx, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return object.FunctionCall{}, NewCallNotFoundError(callID)
	}
	if err != nil {
		return object.FunctionCall{}, fmt.Errorf("load call %s: %w", callID, err)
	}
	return call, nil
}

// invoke calls the target, converting a panic into an error plus stack.
func invoke(fn reflect.Value, args []reflect.Value) (value any, panicErr error, stack string) {
	defer func() {
		if rec := recover(); rec != nil {
			panicErr = fmt.Errorf("panic: %v", rec)
			stack = string(debug.Stack())
		}
	}()
	out := fn.Call(args)
	switch len(out) {
	case 0:
	case 1:
		value = out[0].Interface()
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		value = vals
	}
	return value, nil, ""
}

// shortID truncates a record id for session names and logs.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
