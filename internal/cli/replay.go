package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/harness"
	"github.com/roach88/retrace/internal/policy"
	"github.com/roach88/retrace/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Sequence      bool
	To            string
	Plan          string
	Policy        string
	IgnoreGlobals []string
	Mocks         []string
	Record        bool
}

// ReplayCallResult is the replay result for a single call.
type ReplayCallResult struct {
	State     string `json:"state"`
	CallID    string `json:"call_id"`
	BranchID  string `json:"branch_id,omitempty"`
	Value     any    `json:"value,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// ReplaySequenceResult is the replay result for a sequence.
type ReplaySequenceResult struct {
	StartCallID string `json:"start_call_id"`
	EndCallID   string `json:"end_call_id,omitempty"`
	BranchRoot  string `json:"branch_root,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [call-id]",
		Short: "Re-execute a recorded call or sequence",
		Long: `Re-execute a recorded call against the registered functions:
arguments are rebuilt from the recording, recorded globals are
injected, and --mock substitutes recorded results for named subcalls.

With --sequence the whole session is replayed from the given call;
--to bounds the range to a subsequence. With --record the re-execution
is captured as a branch linked to the original call.

A --plan from a policy file supplies ignore-globals, mocks, record and
optionally the call range; explicit flags are applied on top.

Replay resolves targets against the built-in demo functions; record
data with 'retrace demo' first.

Exit codes:
  0 - Replay committed
  1 - Replay failed (call not found, unresolvable target, mismatch, abort)
  2 - Command error (database not found, bad flags, etc.)

Examples:
  retrace replay 0190c3a1-...
  retrace replay 0190c3a1-... --mock demo.RollDice --record
  retrace replay 0190c3a1-... --sequence --to 0190c3b7-...
  retrace replay --policy retrace.cue --plan rerun`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := ""
			if len(args) > 0 {
				start = args[0]
			}
			return runReplay(opts, cmd, start)
		},
	}

	cmd.Flags().BoolVar(&opts.Sequence, "sequence", false, "replay the session from the call onward")
	cmd.Flags().StringVar(&opts.To, "to", "", "end call id for a subsequence (implies --sequence)")
	cmd.Flags().StringVar(&opts.Plan, "plan", "", "replay plan name from the policy file")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to a CUE policy file")
	cmd.Flags().StringArrayVar(&opts.IgnoreGlobals, "ignore-global", nil, "global to ignore during replay (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Mocks, "mock", nil, "subcall target to mock from the recording (repeatable)")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record the replay as a branch")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, start string) error {
	ctx := context.Background()

	start, end, callOpts, err := resolveReplayPlan(opts, start)
	if err != nil {
		return err
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := commandLogger(opts.RootOptions, cmd.ErrOrStderr())
	repo := capture.New(st, captureOptions(opts.RootOptions, logger)...)
	defer repo.Close(ctx)

	demo, err := harness.NewDemo(ctx, repo, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up replay targets", err)
	}
	engine := replay.New(repo, demo.Registry(), replay.WithLogger(logger))

	if opts.Sequence || opts.To != "" || end != "" {
		return runReplaySequence(opts, cmd, engine, start, end, callOpts)
	}
	return runReplayCall(opts, cmd, engine, start, callOpts)
}

// resolveReplayPlan merges the policy plan (when named) with explicit
// flags. Returns the effective start and end call ids and the engine
// options, plan first so flags win where they overlap.
func resolveReplayPlan(opts *ReplayOptions, start string) (string, string, []replay.CallOption, error) {
	var callOpts []replay.CallOption
	end := opts.To

	if opts.Plan != "" {
		policyPath := opts.Policy
		if policyPath == "" {
			policyPath = opts.PolicyFile
		}
		if policyPath == "" {
			return "", "", nil, NewExitError(ExitCommandError, "--plan requires --policy")
		}
		pol, err := policy.Load(policyPath)
		if err != nil {
			return "", "", nil, WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		plan, ok := pol.Plan(opts.Plan)
		if !ok {
			return "", "", nil, NewExitError(ExitCommandError, fmt.Sprintf("policy has no plan %q", opts.Plan))
		}
		callOpts = plan.CallOptions()
		if start == "" {
			start = plan.Start
		}
		if end == "" {
			end = plan.End
		}
	}

	if start == "" {
		return "", "", nil, NewExitError(ExitCommandError, "a call id is required (argument or plan start)")
	}
	if len(opts.IgnoreGlobals) > 0 {
		callOpts = append(callOpts, replay.WithIgnoreGlobals(opts.IgnoreGlobals...))
	}
	if len(opts.Mocks) > 0 {
		callOpts = append(callOpts, replay.WithMocks(opts.Mocks...))
	}
	if opts.Record {
		callOpts = append(callOpts, replay.WithRecord())
	}
	return start, end, callOpts, nil
}

func runReplayCall(opts *ReplayOptions, cmd *cobra.Command, engine *replay.Engine, callID string, callOpts []replay.CallOption) error {
	outcome, err := engine.ExecuteCall(context.Background(), callID, callOpts...)
	if err != nil {
		return replayFailure(opts.RootOptions, cmd, err)
	}

	result := ReplayCallResult{
		State:     string(outcome.State),
		CallID:    outcome.CallID,
		BranchID:  outcome.BranchID,
		Value:     outcome.Value,
		Exception: outcome.Exception,
	}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	return outputReplayCallText(cmd, result)
}

func runReplaySequence(opts *ReplayOptions, cmd *cobra.Command, engine *replay.Engine, start, end string, callOpts []replay.CallOption) error {
	ctx := context.Background()

	var rootID string
	var err error
	if end != "" {
		rootID, err = engine.ReplaySubsequence(ctx, start, end, callOpts...)
	} else {
		rootID, err = engine.ReplaySequence(ctx, start, callOpts...)
	}
	if err != nil {
		return replayFailure(opts.RootOptions, cmd, err)
	}

	result := ReplaySequenceResult{StartCallID: start, EndCallID: end, BranchRoot: rootID}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	return outputReplaySequenceText(cmd, result)
}

// replayFailure reports a replay error in the configured format and
// maps it to the failure exit code.
func replayFailure(opts *RootOptions, cmd *cobra.Command, err error) error {
	code := CodeReplay
	if replay.IsCallNotFound(err) {
		code = CodeNotFound
	}
	if opts.Format == "json" {
		var details any
		var replayErr *replay.ReplayError
		if errors.As(err, &replayErr) {
			details = replayErr.Details
		}
		if outErr := newFormatter(opts, cmd).Error(code, err.Error(), details); outErr != nil {
			return outErr
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Replay failed: %v\n", err)
	}
	return WrapExitError(ExitFailure, "replay failed", err)
}

func outputReplayCallText(cmd *cobra.Command, r ReplayCallResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay of %s: %s\n", r.CallID, r.State)
	if r.Exception != "" {
		fmt.Fprintf(w, "  raised: %s\n", r.Exception)
	} else {
		fmt.Fprintf(w, "  returned: %v\n", r.Value)
	}
	if r.BranchID != "" {
		fmt.Fprintf(w, "  branch: %s\n", r.BranchID)
	}
	return nil
}

func outputReplaySequenceText(cmd *cobra.Command, r ReplaySequenceResult) error {
	w := cmd.OutOrStdout()

	if r.EndCallID != "" {
		fmt.Fprintf(w, "Replayed subsequence %s .. %s\n", r.StartCallID, r.EndCallID)
	} else {
		fmt.Fprintf(w, "Replayed sequence from %s\n", r.StartCallID)
	}
	if r.BranchRoot != "" {
		fmt.Fprintf(w, "  branch root: %s\n", r.BranchRoot)
	}
	return nil
}
