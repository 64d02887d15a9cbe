package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/roach88/retrace/internal/object"
	"github.com/roach88/retrace/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Mode string
}

// TraceBundle is the portable trace export format: every stored object
// plus the version chains that order them. Keys are content hashes, so
// a bundle imports cleanly into a store that already holds some of the
// same objects.
type TraceBundle struct {
	Objects []object.StoredObject `json:"objects"`
	Chains  []ChainExport         `json:"chains"`
}

// ChainExport is one identity's version chain, oldest first.
type ChainExport struct {
	Handle string       `json:"handle"`
	Keys   []object.Key `json:"keys"`
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Mode    string `json:"mode"`
	Path    string `json:"path"`
	Objects int    `json:"objects,omitempty"`
	Chains  int    `json:"chains,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export recorded data to a file",
		Long: `Export recorded data. Mode "store" writes a verbatim copy of the
database (VACUUM INTO), including calls, snapshots and sessions. Mode
"trace" writes a portable JSON bundle of stored objects and their
version chains; a path ending in .zst is zstd-compressed.

Exit codes:
  0 - Export written
  2 - Command error (database not found, bad mode, etc.)

Examples:
  retrace export backup.db
  retrace export --mode trace objects.json
  retrace export --mode trace objects.json.zst`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "store", "export mode (store|trace)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, path string) error {
	if opts.Mode != "store" && opts.Mode != "trace" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid mode %q: must be store or trace", opts.Mode))
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	result := ExportResult{Mode: opts.Mode, Path: path}

	switch opts.Mode {
	case "store":
		if err := st.ExportTo(ctx, path); err != nil {
			return WrapExitError(ExitCommandError, "export failed", err)
		}
	case "trace":
		bundle, err := buildTraceBundle(ctx, st)
		if err != nil {
			return WrapExitError(ExitCommandError, "export failed", err)
		}
		if err := writeTraceBundle(path, bundle); err != nil {
			return WrapExitError(ExitCommandError, "export failed", err)
		}
		result.Objects = len(bundle.Objects)
		result.Chains = len(bundle.Chains)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	if opts.Mode == "trace" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d object(s) and %d chain(s) to %s\n",
			result.Objects, result.Chains, path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported store to %s\n", path)
	}
	return nil
}

func buildTraceBundle(ctx context.Context, st *store.Store) (*TraceBundle, error) {
	bundle := &TraceBundle{}

	err := st.ForEachObject(ctx, func(obj object.StoredObject) error {
		bundle.Objects = append(bundle.Objects, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}

	identities, err := st.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range identities {
		keys, ok, err := st.HandleHistory(ctx, id.Handle)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		bundle.Chains = append(bundle.Chains, ChainExport{Handle: id.Handle, Keys: keys})
	}
	return bundle, nil
}

func writeTraceBundle(path string, bundle *TraceBundle) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("build zstd encoder: %w", err)
		}
		w = enc
	}

	if err := json.NewEncoder(w).Encode(bundle); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	return f.Close()
}
