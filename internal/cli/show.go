package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/query"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show one recorded call with its rehydrated values",
		Long: `Show a recorded call in full: arguments, globals, return value,
exception, nested calls, and replay branches. Variable values are
rehydrated from the object store.

Exit codes:
  0 - Success
  1 - Call not found
  2 - Command error (database not found, etc.)

Examples:
  retrace show 0190c3a1-...
  retrace show 0190c3a1-... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd, args[0])
		},
	}

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command, callID string) error {
	ctx := context.Background()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	detail, err := query.New(st).CallDetail(ctx, callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError(opts.RootOptions, cmd, fmt.Sprintf("call %s not found", callID))
		}
		return WrapExitError(ExitCommandError, "failed to load call", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).SuccessIndented(detail)
	}
	return outputShowText(cmd, detail)
}

// notFoundError emits the not-found response in the configured format
// and returns the matching exit code.
func notFoundError(opts *RootOptions, cmd *cobra.Command, message string) error {
	if opts.Format == "json" {
		if err := newFormatter(opts, cmd).Error(CodeNotFound, message, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return NewExitError(ExitFailure, message)
}

func outputShowText(cmd *cobra.Command, d query.CallDetail) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Call %s\n", d.ID)
	fmt.Fprintf(w, "  function: %s\n", d.Function)
	if d.File != "" {
		fmt.Fprintf(w, "  source: %s:%d\n", d.File, d.Line)
	}
	fmt.Fprintf(w, "  session: %s\n", d.SessionID)
	fmt.Fprintf(w, "  outcome: %s\n", d.Outcome)
	if d.InvokedBy != "" {
		fmt.Fprintf(w, "  invoked by: %s\n", d.InvokedBy)
	}
	if d.BranchedFrom != "" {
		fmt.Fprintf(w, "  branched from: %s\n", d.BranchedFrom)
	}
	if d.NextCallID != "" {
		fmt.Fprintf(w, "  next call: %s\n", d.NextCallID)
	}

	printVars(w, "locals", d.Locals)
	printVars(w, "globals", d.Globals)
	if d.ReturnValue != nil {
		fmt.Fprintf(w, "  return: %v\n", d.ReturnValue)
	}
	if d.Exception != "" {
		fmt.Fprintf(w, "  exception: %s\n", d.Exception)
	}

	if len(d.Subcalls) > 0 {
		fmt.Fprintf(w, "  subcalls (%d):\n", len(d.Subcalls))
		for _, sc := range d.Subcalls {
			fmt.Fprintf(w, "    %s  %s\n", sc.ID, sc.Function)
		}
	}
	if len(d.Branches) > 0 {
		fmt.Fprintf(w, "  branches (%d):\n", len(d.Branches))
		for _, b := range d.Branches {
			fmt.Fprintf(w, "    %s  session %s\n", b.ID, b.SessionID)
		}
	}
	return nil
}

func printVars(w io.Writer, label string, vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "  %s:\n", label)
	for _, name := range names {
		fmt.Fprintf(w, "    %s = %v\n", name, vars[name])
	}
}
