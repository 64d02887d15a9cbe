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
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
}

// ImportResult reports what an import loaded.
type ImportResult struct {
	Path    string `json:"path"`
	Objects int    `json:"objects"`
	Chains  int    `json:"chains"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a trace bundle into the database",
		Long: `Import a trace bundle written by 'export --mode trace'. Every
object is re-verified against its content key before insert; objects
already present are left untouched, so importing into a populated
store is safe. Version chains are recreated under their recorded
handles. A path ending in .zst is zstd-decompressed.

Store-mode exports are complete databases; point --db at them instead
of importing.

Exit codes:
  0 - Bundle imported
  2 - Command error (file not found, corrupt bundle, key mismatch)

Examples:
  retrace import objects.json
  retrace import objects.json.zst --db fresh.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args[0])
		},
	}

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command, path string) error {
	bundle, err := readTraceBundle(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "import failed", err)
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, obj := range bundle.Objects {
		if err := st.ImportObject(ctx, obj); err != nil {
			return WrapExitError(ExitCommandError, "import failed", err)
		}
	}
	for _, chain := range bundle.Chains {
		if err := st.ImportChain(ctx, chain.Handle, chain.Keys); err != nil {
			return WrapExitError(ExitCommandError, "import failed", err)
		}
	}

	result := ImportResult{Path: path, Objects: len(bundle.Objects), Chains: len(bundle.Chains)}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d object(s) and %d chain(s) from %s\n",
		result.Objects, result.Chains, path)
	return nil
}

func readTraceBundle(path string) (*TraceBundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("build zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var bundle TraceBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &bundle, nil
}
