package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/query"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded monitoring sessions",
		Long: `List all monitoring sessions in the database with their call counts.

Exit codes:
  0 - Success
  2 - Command error (database not found, etc.)

Examples:
  retrace sessions --db ./retrace.db
  retrace sessions --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := query.New(st).ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(sessions)
	}
	return outputSessionsText(cmd, sessions)
}

func outputSessionsText(cmd *cobra.Command, sessions []query.SessionSummary) error {
	w := cmd.OutOrStdout()

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}

	fmt.Fprintf(w, "%d session(s)\n\n", len(sessions))
	for _, s := range sessions {
		status := "ended"
		if s.Active {
			status = "active"
		}
		fmt.Fprintf(w, "%s  %s\n", s.ID, s.Name)
		fmt.Fprintf(w, "  started: %s  status: %s  calls: %d\n", s.StartTime.Format("2006-01-02 15:04:05"), status, s.CallCount)
		fmt.Fprintln(w)
	}
	return nil
}
