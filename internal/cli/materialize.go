package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/modvault/modvault/internal/fetch"
	"github.com/modvault/modvault/internal/virtualize"
)

// MaterializeOptions holds flags for the materialize command.
type MaterializeOptions struct {
	*RootOptions
	Origin     string
	Output     string
	StoreDir   string
	StoreDB    string
	Sequential bool
	Trace      bool
}

// MaterializeData is the success payload of the materialize command.
type MaterializeData struct {
	Session string                  `json:"session"`
	Stats   fetch.Stats             `json:"stats"`
	Output  string                  `json:"output"`
	Trace   []virtualize.TraceEvent `json:"trace,omitempty"`
}

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MaterializeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "materialize <manifest.json>",
		Short: "Run the runtime resolution pipeline against an origin",
		Long: `Resolve every chunk in a manifest the way the runtime would.

Chunks are looked up in the content store by hash, fetched from the
origin on miss, written back, and materialized on disk together with
the final import map. Useful for cache warming and for debugging a
resolution offline.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Origin, "origin", "", "origin URL serving the rewritten build (required)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "modvault-out", "directory to materialize modules into")
	cmd.Flags().StringVar(&opts.StoreDir, "store-dir", "", "directory-backed content store (default: user cache dir)")
	cmd.Flags().StringVar(&opts.StoreDB, "store-sqlite", "", "SQLite-backed content store")
	cmd.Flags().BoolVar(&opts.Sequential, "sequential", false, "resolve chunks one at a time in sorted order")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the resolution trace in the output")
	_ = cmd.MarkFlagRequired("origin")

	return cmd
}

func runMaterialize(opts *MaterializeOptions, manifestPath string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := readManifest(manifestPath)
	if err != nil {
		var cfgErr *ConfigError
		code := ErrCodeManifestBad
		msg := err.Error()
		if errors.As(err, &cfgErr) {
			code, msg = cfgErr.Code, cfgErr.Message
		}
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, msg), nil)
	}

	storeDir, storeDB := opts.StoreDir, opts.StoreDB
	if storeDir == "" && storeDB == "" {
		storeDir = defaultStoreDir()
	}
	cas, err := openStore(storeDir, storeDB)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, err.Error(), nil)
	}
	defer cas.Close()

	logger := log.New(cmd.ErrOrStderr())
	if !opts.Verbose {
		logger.SetLevel(log.WarnLevel)
	}

	fetcher := fetch.New(opts.Origin, cas, fetch.WithLogger(logger))
	loader, err := virtualize.NewFileLoader(opts.Output)
	if err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, err.Error(), nil)
	}

	topts := []virtualize.Option{virtualize.WithLogger(logger)}
	if opts.Sequential {
		topts = append(topts, virtualize.WithSequential())
	}
	table := virtualize.New(m, fetcher, loader, topts...)

	if err := table.Bootstrap(ctx); err != nil {
		_ = formatter.Error(ErrCodeBootstrapFailed, err.Error(), map[string]any{"session": fetcher.Session()})
		// A rejected bootstrap is an outcome, not a usage error.
		return WrapExitError(ExitFailure, err.Error(), nil)
	}

	data := &MaterializeData{
		Session: fetcher.Session(),
		Stats:   fetcher.Stats(),
		Output:  opts.Output,
	}
	if opts.Trace {
		data.Trace = table.Trace()
	}

	if formatter.Format == "json" {
		return formatter.Success(data)
	}

	stats := data.Stats
	fmt.Fprintf(formatter.Writer, "✓ Materialized %d chunk(s) into %s\n", len(m.Chunks), opts.Output)
	fmt.Fprintf(formatter.Writer, "  session: %s\n", data.Session)
	fmt.Fprintf(formatter.Writer, "  store hits: %d, misses: %d, fetches: %d, write-backs: %d\n",
		stats.StoreHits, stats.StoreMisses, stats.NetworkFetches, stats.WriteBacks)
	if opts.Trace {
		fmt.Fprintln(formatter.Writer, "Trace:")
		for _, ev := range data.Trace {
			fmt.Fprintf(formatter.Writer, "  %4d %-14s %s\n", ev.Seq, ev.Type, ev.VirtualID)
		}
	}
	return nil
}

// defaultStoreDir places the content store under the user cache
// directory, falling back to the system temp dir.
func defaultStoreDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "modvault", "store")
}
