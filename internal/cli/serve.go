package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/api"
	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/harness"
	"github.com/roach88/retrace/internal/policy"
	"github.com/roach88/retrace/internal/replay"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	Policy string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query and replay API",
		Long: `Serve the read API over HTTP: sessions, calls, object history,
snapshot chains, plus POST replay endpoints backed by the built-in
demo functions. Runs until interrupted.

The listen address resolves like every other setting: --listen flag,
RETRACE_LISTEN, then the config file.

Exit codes:
  0 - Server shut down cleanly
  2 - Command error (database not found, port busy, bad policy)

Examples:
  retrace serve
  retrace serve --listen :9000 --policy retrace.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "path to a CUE policy file")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	addr := opts.Addr
	if addr == "" {
		addr = opts.Listen
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

	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithEngine(engine),
	}
	policyPath := opts.Policy
	if policyPath == "" {
		policyPath = opts.PolicyFile
	}
	if policyPath != "" {
		pol, err := policy.Load(policyPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		serverOpts = append(serverOpts, api.WithPolicy(pol))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "retrace API listening on %s (db %s)\n", addr, opts.Database)

	srv := api.NewServer(st, serverOpts...)
	if err := srv.Run(addr); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
