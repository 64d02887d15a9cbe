package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/policy"
)

// PolicyOptions holds flags for the policy commands.
type PolicyOptions struct {
	*RootOptions
}

// PolicyValidateResult summarizes a validated policy file.
type PolicyValidateResult struct {
	Path      string   `json:"path"`
	Valid     bool     `json:"valid"`
	Functions int      `json:"functions"`
	Ignored   []string `json:"ignored_variables,omitempty"`
	Plans     []string `json:"plans,omitempty"`
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with CUE policy files",
		Long: `Work with CUE policy files. A policy declares per-function capture
rules (mode, renamed targets, ignored variables, marked lines) and
named replay plans the replay command can run with --plan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newPolicyValidateCommand(opts))

	return cmd
}

func newPolicyValidateCommand(opts *PolicyOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a policy file against the schema",
		Long: `Parse a CUE policy file and check it against the policy schema.
Errors carry the file position of the offending field.

Exit codes:
  0 - Policy is valid
  1 - Policy is missing or invalid

Examples:
  retrace policy validate retrace.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(opts, cmd, args[0])
		},
	}
	return cmd
}

func runPolicyValidate(opts *PolicyOptions, cmd *cobra.Command, path string) error {
	pol, err := policy.Load(path)
	if err != nil {
		if opts.Format == "json" {
			if outErr := newFormatter(opts.RootOptions, cmd).Error(CodePolicy, err.Error(), nil); outErr != nil {
				return outErr
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Policy invalid: %v\n", err)
		}
		return WrapExitError(ExitFailure, "policy invalid", err)
	}

	result := PolicyValidateResult{
		Path:      path,
		Valid:     true,
		Functions: len(pol.Capture.Functions),
		Ignored:   pol.Capture.Ignore,
	}
	for name := range pol.Plans {
		result.Plans = append(result.Plans, name)
	}
	sort.Strings(result.Plans)

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Policy %s is valid\n", path)
	fmt.Fprintf(w, "  %d function rule(s), %d plan(s)\n", result.Functions, len(result.Plans))
	if len(result.Ignored) > 0 {
		fmt.Fprintf(w, "  ignored variables: %v\n", result.Ignored)
	}
	return nil
}
