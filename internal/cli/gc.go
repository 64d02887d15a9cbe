package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// GCOptions holds flags for the gc command.
type GCOptions struct {
	*RootOptions
}

// GCResult reports how many stored objects a collection removed.
type GCResult struct {
	Removed int `json:"removed"`
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GCOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove stored objects no recorded call references",
		Long: `Collect stored objects unreachable from any surviving call or
snapshot. Reachability follows locals, globals, return values and the
children of composite payloads; version chains whose objects all go
away are removed with them.

Exit codes:
  0 - Collection completed
  2 - Command error (database not found, etc.)

Examples:
  retrace gc
  retrace gc --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(opts, cmd)
		},
	}

	return cmd
}

func runGC(opts *GCOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := st.CollectGarbage(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "garbage collection failed", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(GCResult{Removed: removed})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d unreachable object(s)\n", removed)
	return nil
}
