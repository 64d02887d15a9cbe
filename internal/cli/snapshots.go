package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/query"
)

// SnapshotsOptions holds flags for the snapshots command.
type SnapshotsOptions struct {
	*RootOptions
}

// NewSnapshotsCommand creates the snapshots command.
func NewSnapshotsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshots <call-id>",
		Short: "Show a call's line-level stack snapshots",
		Long: `Show the chain of line snapshots recorded inside one call, in
execution order, with variable values rehydrated.

Line snapshots exist only for calls recorded under a line-mode capture
policy; function-mode calls have none.

Exit codes:
  0 - Success
  1 - No snapshots recorded for the call
  2 - Command error (database not found, etc.)

Examples:
  retrace snapshots 0190c3a1-...
  retrace snapshots 0190c3a1-... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(opts, cmd, args[0])
		},
	}

	return cmd
}

func runSnapshots(opts *SnapshotsOptions, cmd *cobra.Command, callID string) error {
	ctx := context.Background()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := query.New(st).SnapshotChain(ctx, callID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshots", err)
	}
	if len(snaps) == 0 {
		return notFoundError(opts.RootOptions, cmd, fmt.Sprintf("no snapshots recorded for call %s", callID))
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(snaps)
	}
	return outputSnapshotsText(cmd, callID, snaps)
}

func outputSnapshotsText(cmd *cobra.Command, callID string, snaps []query.SnapshotView) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Call %s: %d snapshot(s)\n\n", callID, len(snaps))
	for _, s := range snaps {
		fmt.Fprintf(w, "#%d  line %d\n", s.Position, s.Line)
		printVars(w, "locals", s.Locals)
		printVars(w, "globals", s.Globals)
	}
	return nil
}
