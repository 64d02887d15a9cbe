package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/query"
)

// CallsOptions holds flags for the calls command.
type CallsOptions struct {
	*RootOptions
	Function string
	File     string
	Search   string
	Session  string
	Limit    int
}

// NewCallsCommand creates the calls command.
func NewCallsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recorded function calls",
		Long: `List recorded function calls, filtered by function name, file,
session, or a substring search over both.

Exit codes:
  0 - Success
  2 - Command error (invalid filter, database not found, etc.)

Examples:
  retrace calls --db ./retrace.db
  retrace calls --function demo.Add
  retrace calls --search demo --limit 10
  retrace calls --session <session-id> --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Function, "function", "", "exact function name filter")
	cmd.Flags().StringVar(&opts.File, "file", "", "exact source file filter")
	cmd.Flags().StringVar(&opts.Search, "search", "", "substring match over function and file")
	cmd.Flags().StringVar(&opts.Session, "session", "", "restrict to one session")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of calls (0 = all)")

	return cmd
}

func runCalls(opts *CallsOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	filter := query.Filter{
		Function:  opts.Function,
		File:      opts.File,
		Search:    opts.Search,
		SessionID: opts.Session,
		Limit:     opts.Limit,
	}
	calls, err := query.New(st).ListCalls(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list calls", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(calls)
	}
	return outputCallsText(cmd, calls)
}

func outputCallsText(cmd *cobra.Command, calls []query.CallSummary) error {
	w := cmd.OutOrStdout()

	if len(calls) == 0 {
		fmt.Fprintln(w, "No calls matched.")
		return nil
	}

	fmt.Fprintf(w, "%d call(s)\n\n", len(calls))
	for _, c := range calls {
		fmt.Fprintf(w, "%s  %s  [%s]\n", c.ID, c.Function, c.Outcome)
		fmt.Fprintf(w, "  session: %s  started: %s\n", c.SessionID, c.StartTime.Format("2006-01-02 15:04:05"))
		if c.BranchedFrom != "" {
			fmt.Fprintf(w, "  branched from: %s\n", c.BranchedFrom)
		}
		fmt.Fprintln(w)
	}
	return nil
}
