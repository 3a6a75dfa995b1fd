package harness

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/fetch"
	"github.com/modvault/modvault/internal/manifest"
	"github.com/modvault/modvault/internal/rewrite"
	"github.com/modvault/modvault/internal/selector"
	"github.com/modvault/modvault/internal/store"
	"github.com/modvault/modvault/internal/testutil"
	"github.com/modvault/modvault/internal/virtualize"
)

// Result holds everything a scenario run produced.
type Result struct {
	// Manifest is the built manifest.
	Manifest *chunk.Manifest

	// Warnings are the rewrite warnings.
	Warnings []rewrite.Warning

	// Stats are the fetcher's session counters.
	Stats fetch.Stats

	// Trace is the resolution trace.
	Trace []virtualize.TraceEvent

	// BootstrapErr is the bootstrap outcome; nil means the entry
	// imported.
	BootstrapErr error

	// Table exposes per-identifier resolution states.
	Table *virtualize.Table

	// Loader records every materialized module and the installed table.
	Loader *testutil.MemoryLoader
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, a fresh in-process
// origin server, and a fresh resolution table, so scenarios never
// interact.
//
// Execution flow:
//  1. Rewrite the chunk graph per the scenario config
//  2. Build and validate the manifest
//  3. Serve the rewritten output from an in-process origin
//  4. Preload the store with any precached chunks
//  5. Bootstrap the resolution table and capture the outcome
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	chunks := make([]chunk.Chunk, 0, len(scenario.Chunks))
	for _, c := range scenario.Chunks {
		chunks = append(chunks, chunk.Chunk{Path: c.Path, Code: []byte(c.Code)})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Path < chunks[j].Path })

	sel, err := selector.New(scenario.Config.Include, scenario.Config.Exclude)
	if err != nil {
		return nil, fmt.Errorf("scenario selector: %w", err)
	}

	rewritten, err := rewrite.Graph(ctx, chunks, sel.Managed)
	if err != nil {
		return nil, fmt.Errorf("scenario rewrite: %w", err)
	}

	m, records, err := manifest.Build(ctx, rewritten, sel.Managed, scenario.Config.Entry, scenario.Config.Base)
	if err != nil {
		return nil, fmt.Errorf("scenario manifest: %w", err)
	}

	// The origin serves the rewritten output, minus withheld chunks.
	missing := make(map[string]bool, len(scenario.Missing))
	for _, p := range scenario.Missing {
		missing[p] = true
	}
	files := make(map[string][]byte, len(rewritten.Chunks))
	for _, c := range rewritten.Chunks {
		if !missing[c.Path] {
			files[c.Path] = c.Code
		}
	}
	srv := httptest.NewServer(testutil.NewCountingHandler(files))
	defer srv.Close()

	cas := testutil.NewMemoryStore()
	byPath := make(map[string]chunk.Record, len(records))
	for _, rec := range records {
		byPath[rec.Path] = rec
	}
	for _, p := range scenario.Precache {
		rec, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("precache path %q is not a managed chunk", p)
		}
		cas.Preload(store.NewKey(rec.Hash), rec.Code)
	}

	quiet := log.New(io.Discard)
	fetcher := fetch.New(srv.URL, cas, fetch.WithLogger(quiet))
	loader := testutil.NewMemoryLoader()

	opts := []virtualize.Option{virtualize.WithLogger(quiet)}
	if !scenario.Concurrent {
		opts = append(opts, virtualize.WithSequential())
	}
	table := virtualize.New(m, fetcher, loader, opts...)
	bootstrapErr := table.Bootstrap(ctx)

	return &Result{
		Manifest:     m,
		Warnings:     rewritten.Warnings,
		Stats:        fetcher.Stats(),
		Trace:        table.Trace(),
		BootstrapErr: bootstrapErr,
		Table:        table,
		Loader:       loader,
	}, nil
}
