package virtualize

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/modvault/modvault/internal/chunk"
)

// Bootstrap resolves every manifest chunk, installs the complete table
// in one atomic step, and imports the entry module.
//
// Resolutions fan out concurrently unless the table was built with
// WithSequential. A chunk failure is logged and leaves its placeholder
// Failed; chunks outside the entry's dependency closure do not block the
// entry import, but any failure inside the closure rejects it before
// the loader ever sees a partial table.
func (t *Table) Bootstrap(ctx context.Context) error {
	ids := t.manifest.SortedIDs()
	// Failures are recorded on the placeholder, not returned here, so
	// one bad chunk cannot stop unrelated resolutions.
	if t.sequential {
		for _, vid := range ids {
			_, _ = t.Resolve(ctx, vid)
		}
	} else {
		var g errgroup.Group
		for _, vid := range ids {
			vid := vid
			g.Go(func() error {
				_, _ = t.Resolve(ctx, vid)
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := t.entryClosureHealthy(); err != nil {
		return err
	}

	table := t.assemble()
	t.event(EventTableInstall, "", fmt.Sprintf("%d entries", len(table)))
	if err := t.loader.InstallTable(ctx, table); err != nil {
		return &ResolveError{
			Code:    ErrCodeEntryImportFailed,
			Message: "table install rejected",
			Err:     err,
		}
	}

	t.event(EventEntryImport, t.manifest.Entry, "")
	if err := t.loader.Import(ctx, t.manifest.Entry); err != nil {
		return &ResolveError{
			Code:      ErrCodeEntryImportFailed,
			Message:   "entry import rejected",
			VirtualID: t.manifest.Entry,
			Err:       err,
		}
	}
	t.log.Debug("bootstrap complete",
		"chunks", len(ids),
		"events", t.clock.Current())
	return nil
}

// entryClosureHealthy walks the entry's transitive dependency closure
// and reports the first failed resolution found in it. Failures outside
// the closure are tolerated: unrelated subgraphs do not take the page
// down.
func (t *Table) entryClosureHealthy() error {
	seen := make(map[string]bool)
	stack := []string{t.manifest.Entry}
	for len(stack) > 0 {
		vid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[vid] {
			continue
		}
		seen[vid] = true

		t.mu.Lock()
		e := t.entries[vid]
		t.mu.Unlock()
		if e != nil && e.state == StateFailed {
			return &ResolveError{
				Code:      ErrCodeEntryImportFailed,
				Message:   "entry dependency closure contains a failed chunk",
				VirtualID: t.manifest.Entry,
				Err:       e.err,
			}
		}
		stack = append(stack, t.manifest.Chunks[vid].Deps...)
	}
	return nil
}

// assemble builds the final table: every resolved managed chunk by its
// shim reference, every alias that was constructed, and every unmanaged
// chunk by its direct URL.
func (t *Table) assemble() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	table := make(map[string]string, len(t.entries)+len(t.unmanagedRefs))
	for vid, e := range t.entries {
		if e.state == StateResolved {
			table[vid] = e.ref
		}
	}
	for vid, ref := range t.unmanagedRefs {
		table[vid] = ref
	}
	return table
}

// UnmanagedRef returns the direct URL an unmanaged build-output path is
// registered under, and whether it is registered at all.
func (t *Table) UnmanagedRef(path string) (string, bool) {
	ref, ok := t.unmanagedRefs[chunk.VirtualID(path)]
	return ref, ok
}
