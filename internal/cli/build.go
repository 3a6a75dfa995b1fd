package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/manifest"
	"github.com/modvault/modvault/internal/rewrite"
	"github.com/modvault/modvault/internal/selector"
	"github.com/modvault/modvault/internal/store"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Config   string // CUE config file path
	Output   string // output directory for rewritten chunks
	StoreDir string // seed a directory-backed store
	StoreDB  string // seed a SQLite-backed store
	Embed    bool   // emit the bootstrap manifest module
	Strict   bool   // rewrite warnings fail the build
}

// BuildData is the success payload of the build command.
type BuildData struct {
	Manifest *chunk.Manifest         `json:"manifest"`
	Warnings []rewrite.Warning       `json:"warnings,omitempty"`
	Cycles   []manifest.CycleWarning `json:"cycles,omitempty"`
	Stats    BuildStats              `json:"stats"`
}

// BuildStats holds summary statistics.
type BuildStats struct {
	Chunks    int `json:"chunks"`
	Managed   int `json:"managed"`
	Unmanaged int `json:"unmanaged"`
	Stored    int `json:"stored"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build <dist-dir>",
		Short: "Rewrite a chunk graph onto virtual identifiers",
		Long: `Rewrite a compiled chunk graph onto virtual identifiers and emit the manifest.

The rewriter parses each chunk, redirects managed module references to
virtual identifiers, hashes the final bytes, and writes the manifest
that lets the runtime resolve chunks by content instead of path.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "modvault.cue", "build config file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (default: rewrite in place under <dist-dir>)")
	cmd.Flags().StringVar(&opts.StoreDir, "store-dir", "", "seed a directory-backed content store")
	cmd.Flags().StringVar(&opts.StoreDB, "store-sqlite", "", "seed a SQLite-backed content store")
	cmd.Flags().BoolVar(&opts.Embed, "embed", false, "emit the bootstrap manifest module alongside the manifest")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat rewrite warnings as failures")

	return cmd
}

func runBuild(opts *BuildOptions, distDir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return outputBuildError(formatter, cfgErr.Code, cfgErr.Message)
		}
		return outputBuildError(formatter, ErrCodeGeneric, err.Error())
	}

	sel, err := selector.New(cfg.Include, cfg.Exclude)
	if err != nil {
		// Malformed patterns are build-fatal, never silently skipped.
		return outputBuildError(formatter, ErrCodeInvalidPattern, err.Error())
	}
	if !sel.Managed(cfg.Entry) {
		return outputBuildError(formatter, ErrCodeEntryUnmanaged,
			fmt.Sprintf("entry %q is not selected as managed", cfg.Entry))
	}

	chunks, err := loadChunks(distDir)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return outputBuildError(formatter, cfgErr.Code, cfgErr.Message)
		}
		return outputBuildError(formatter, ErrCodeScanError, err.Error())
	}
	formatter.VerboseLog("Found %d chunk(s) in %s", len(chunks), distDir)

	result, err := rewrite.Graph(ctx, chunks, sel.Managed)
	if err != nil {
		return outputBuildError(formatter, ErrCodeRewriteFailed, err.Error())
	}
	for _, w := range result.Warnings {
		formatter.VerboseLog("warning: %s", w)
	}

	m, records, err := manifest.Build(ctx, result, sel.Managed, cfg.Entry, cfg.Base)
	if err != nil {
		return outputBuildError(formatter, ErrCodeManifestBad, err.Error())
	}
	cycles := manifest.AnalyzeCycles(m)
	for _, c := range cycles {
		formatter.VerboseLog("cycle: %s", c)
	}

	outDir := opts.Output
	if outDir == "" {
		outDir = distDir
	}
	if err := writeOutputs(outDir, result, m, opts.Embed); err != nil {
		return outputBuildError(formatter, ErrCodeWriteFailed, err.Error())
	}

	stored := 0
	if opts.StoreDir != "" || opts.StoreDB != "" {
		cas, err := openStore(opts.StoreDir, opts.StoreDB)
		if err != nil {
			return outputBuildError(formatter, ErrCodeStoreFailed, err.Error())
		}
		defer cas.Close()
		if stored, err = seedStore(ctx, cas, records); err != nil {
			return outputBuildError(formatter, ErrCodeStoreFailed, err.Error())
		}
	}

	data := &BuildData{
		Manifest: m,
		Warnings: result.Warnings,
		Cycles:   cycles,
		Stats: BuildStats{
			Chunks:    len(result.Chunks),
			Managed:   len(m.Chunks),
			Unmanaged: len(m.Unmanaged),
			Stored:    stored,
		},
	}
	if err := outputBuildSuccess(formatter, data, outDir); err != nil {
		return err
	}

	if opts.Strict && len(result.Warnings) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("build produced %d warning(s)", len(result.Warnings)))
	}
	return nil
}

// loadChunks reads every .js and .mjs file under dir, keyed by
// slash-separated path relative to dir.
func loadChunks(dir string) ([]chunk.Chunk, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &ConfigError{Code: ErrCodeNotFound, Message: fmt.Sprintf("dist directory not found: %s", dir)}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &ConfigError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	var chunks []chunk.Chunk
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".js" && ext != ".mjs" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk.Chunk{Path: filepath.ToSlash(rel), Code: code})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &ConfigError{Code: ErrCodeNoChunks, Message: fmt.Sprintf("no chunk files found in %s", dir)}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Path < chunks[j].Path })
	return chunks, nil
}

// writeOutputs writes the rewritten chunks, the manifest, and
// optionally the bootstrap module.
func writeOutputs(outDir string, result *rewrite.Result, m *chunk.Manifest, embed bool) error {
	for _, c := range result.Chunks {
		target := filepath.Join(outDir, filepath.FromSlash(c.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, c.Code, 0o644); err != nil {
			return err
		}
	}

	encoded, err := m.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), encoded, 0o644); err != nil {
		return err
	}

	if embed {
		boot, err := manifest.EmbedBootstrap(m)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, "modvault-bootstrap.js"), boot, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// openStore opens the configured content-addressed store backend.
func openStore(dir, db string) (store.Store, error) {
	if dir != "" && db != "" {
		return nil, fmt.Errorf("--store-dir and --store-sqlite are mutually exclusive")
	}
	if db != "" {
		return store.OpenSQLite(db)
	}
	return store.OpenDir(dir)
}

// seedStore writes every managed chunk's final bytes under its content
// hash, so first page loads hit the cache without a network round trip.
func seedStore(ctx context.Context, cas store.Store, records []chunk.Record) (int, error) {
	n := 0
	for _, rec := range records {
		if err := store.WriteAll(ctx, cas, store.NewKey(rec.Hash), rec.Code); err != nil {
			return n, fmt.Errorf("seeding %s: %w", rec.VirtualID, err)
		}
		n++
	}
	return n, nil
}

// outputBuildSuccess outputs successful build results.
func outputBuildSuccess(formatter *OutputFormatter, data *BuildData, outDir string) error {
	if formatter.Format == "json" {
		return formatter.Success(data)
	}

	fmt.Fprintf(formatter.Writer, "✓ Rewrote %d chunk(s): %d managed, %d unmanaged\n\n",
		data.Stats.Chunks, data.Stats.Managed, data.Stats.Unmanaged)

	if len(data.Warnings) > 0 {
		fmt.Fprintln(formatter.Writer, "Warnings:")
		for _, w := range data.Warnings {
			fmt.Fprintf(formatter.Writer, "  %s\n", w)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(data.Cycles) > 0 {
		fmt.Fprintln(formatter.Writer, "Cycles:")
		for _, c := range data.Cycles {
			fmt.Fprintf(formatter.Writer, "  %s\n", c)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if data.Stats.Stored > 0 {
		fmt.Fprintf(formatter.Writer, "Seeded %d chunk(s) into the content store\n", data.Stats.Stored)
	}
	fmt.Fprintf(formatter.Writer, "Wrote manifest to %s\n", filepath.Join(outDir, "manifest.json"))
	return nil
}

// outputBuildError outputs a build error.
func outputBuildError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Build setup errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
