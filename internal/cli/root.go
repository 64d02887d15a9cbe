package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigFile string

	// Resolved from config, not flags.
	Listen        string        // serve command's default address
	QueueSize     int           // capture event queue capacity
	FlushBatch    int           // events per write batch
	FlushInterval time.Duration // background flush period
	PolicyFile    string        // default CUE policy path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the retrace CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "retrace",
		Short: "retrace - record, inspect and replay function executions",
		Long: `retrace records function calls into a content-addressed store and
replays them later: same arguments, same globals, recorded mocks for
anything nondeterministic.

Configuration resolves in order: flags, RETRACE_* environment
variables, retrace.yaml, built-in defaults.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, opts); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", DefaultFormat, "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", DefaultDatabase, "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config file (default retrace.yaml)")

	// Add subcommands
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewCallsCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSnapshotsCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewGCCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openStore opens the configured database, mapping failure to a
// command error.
func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.Database, store.WithLogger(commandLogger(opts, io.Discard)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open database %s", opts.Database), err)
	}
	return st, nil
}

// commandLogger builds the slog logger commands hand to the lower
// layers. Quiet unless --verbose, in which case diagnostics go to w.
func commandLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	if !opts.Verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// captureOptions assembles repository options from the resolved
// configuration. Zero values fall through to the capture defaults.
func captureOptions(opts *RootOptions, log *slog.Logger) []capture.RepositoryOption {
	ropts := []capture.RepositoryOption{capture.WithLogger(log)}
	if opts.QueueSize > 0 {
		ropts = append(ropts, capture.WithQueueSize(opts.QueueSize))
	}
	if opts.FlushBatch > 0 {
		ropts = append(ropts, capture.WithBatchSize(opts.FlushBatch))
	}
	if opts.FlushInterval > 0 {
		ropts = append(ropts, capture.WithFlushInterval(opts.FlushInterval))
	}
	return ropts
}

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
