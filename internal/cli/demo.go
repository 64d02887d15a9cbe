package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/harness"
	"github.com/roach88/retrace/internal/query"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Name string
}

// DemoResult reports what a demo run recorded.
type DemoResult struct {
	SessionID string   `json:"session_id"`
	Calls     int      `json:"calls"`
	Functions []string `json:"functions"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Record a session of the built-in demo functions",
		Long: `Record one session of the built-in demo functions: arithmetic,
a greeting that reads a global, dice rolls nested under a game round,
and stack pushes that grow a version chain. Gives every other command
data to act on.

Exit codes:
  0 - Session recorded
  2 - Command error (database not writable, etc.)

Examples:
  retrace demo
  retrace demo --name warmup --db demo.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "demo", "session name")

	return cmd
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := commandLogger(opts.RootOptions, cmd.ErrOrStderr())
	repo := capture.New(st, captureOptions(opts.RootOptions, logger)...)

	demo, err := harness.NewDemo(ctx, repo, logger)
	if err != nil {
		repo.Close(ctx)
		return WrapExitError(ExitCommandError, "failed to set up demo", err)
	}

	sessionID, err := demo.RunSession(ctx, opts.Name)
	if err != nil {
		repo.Close(ctx)
		return WrapExitError(ExitCommandError, "demo session failed", err)
	}
	if err := repo.Close(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to flush demo session", err)
	}

	calls, err := query.New(st).ListCalls(ctx, query.Filter{SessionID: sessionID})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count recorded calls", err)
	}

	result := DemoResult{
		SessionID: sessionID,
		Calls:     len(calls),
		Functions: harness.DemoFunctions(),
	}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Recorded session %s (%d calls)\n", result.SessionID, result.Calls)
	fmt.Fprintf(w, "Functions: %s\n", strings.Join(result.Functions, ", "))
	return nil
}
