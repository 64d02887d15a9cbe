package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/query"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <object-key>",
		Short: "Show the version chain containing an object",
		Long: `Show every version of the identity that produced the given object
key, oldest first, with values rehydrated from the store.

Exit codes:
  0 - Success
  1 - Object not part of any version chain
  2 - Command error (invalid key, database not found, etc.)

Examples:
  retrace history ab12...
  retrace history ab12... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd, args[0])
		},
	}

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command, rawKey string) error {
	ctx := context.Background()

	key := object.Key(rawKey)
	if err := key.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid object key", err)
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	versions, err := query.New(st).ObjectHistory(ctx, key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load history", err)
	}
	if len(versions) == 0 {
		return notFoundError(opts.RootOptions, cmd, fmt.Sprintf("object %s is not part of any version chain", key))
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(versions)
	}
	return outputHistoryText(cmd, key, versions)
}

func outputHistoryText(cmd *cobra.Command, key object.Key, versions []query.ObjectVersion) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "History of %s: %d version(s)\n\n", key, len(versions))
	for i, v := range versions {
		marker := " "
		if v.Key == key {
			marker = "*"
		}
		fmt.Fprintf(w, "%s v%d  %s\n", marker, i+1, v.Key)
		fmt.Fprintf(w, "    %v\n", v.Value)
	}
	return nil
}
