package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	CallID  string `json:"call_id"`
	Deleted bool   `json:"deleted"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <call-id>",
		Short: "Delete a recorded call and its snapshots",
		Long: `Delete a recorded call, its stack snapshots, and any stored
objects that become unreachable once the call is gone. Objects still
referenced by other calls survive.

Exit codes:
  0 - Call deleted
  1 - Call not found
  2 - Command error (database not found, etc.)

Examples:
  retrace delete 0190c3a1-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, cmd, args[0])
		},
	}

	return cmd
}

func runDelete(opts *DeleteOptions, cmd *cobra.Command, callID string) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.DeleteCall(context.Background(), callID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to delete call", err)
	}
	if !deleted {
		return notFoundError(opts.RootOptions, cmd, fmt.Sprintf("call not found: %s", callID))
	}

	result := DeleteResult{CallID: callID, Deleted: true}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted call %s\n", callID)
	return nil
}
