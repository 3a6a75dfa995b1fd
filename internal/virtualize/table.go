package virtualize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/fetch"
)

// State is the resolution state of one virtual identifier.
type State int

const (
	// StateUnresolved is the placeholder state before any work starts.
	StateUnresolved State = iota
	// StateResolving means a resolution is in flight.
	StateResolving
	// StateResolved means the identifier has a final reference.
	StateResolved
	// StateFailed means the resolution failed. Terminal within one
	// page load.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	shimSuffix  = "!shim"
	aliasSuffix = "!alias"
)

// entry is the per-identifier placeholder. Dependents subscribe to the
// placeholder, never to a completed value, so resolution order does not
// matter.
type entry struct {
	state State
	ref   string
	err   error

	// done is closed exactly once, on transition to a terminal state.
	done chan struct{}

	// A lazy alias is constructed at most once per identifier and
	// shared by every dependency edge that hits the cycle guard.
	aliasOnce sync.Once
	aliasRef  string
	aliasErr  error
}

func newEntry() *entry {
	return &entry{done: make(chan struct{})}
}

// Table drives resolution for one page load. It owns the placeholder
// entries, the trace, and the final identifier-to-reference table handed
// to the loader.
//
// A Table is single-use: construct one per bootstrap and discard it.
type Table struct {
	manifest *chunk.Manifest
	fetcher  *fetch.Fetcher
	loader   Loader
	log      *log.Logger
	clock    *Clock

	sequential bool

	mu      sync.Mutex
	entries map[string]*entry

	// unmanagedRefs maps unmanaged virtual identifiers to their direct
	// server URL. Registered up front, never resolved by hash.
	unmanagedRefs map[string]string

	traceMu sync.Mutex
	trace   []TraceEvent
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Table) { t.log = l }
}

// WithSequential makes Bootstrap resolve chunks one at a time in sorted
// identifier order instead of fanning out. Used where a deterministic
// trace matters more than latency.
func WithSequential() Option {
	return func(t *Table) { t.sequential = true }
}

// New creates a Table for one page load. Every identifier the manifest
// declares gets a placeholder before any fetch begins, and every
// unmanaged chunk is registered by its direct URL.
func New(m *chunk.Manifest, f *fetch.Fetcher, loader Loader, opts ...Option) *Table {
	t := &Table{
		manifest:      m,
		fetcher:       f,
		loader:        loader,
		log:           log.Default(),
		clock:         NewClock(),
		entries:       make(map[string]*entry, len(m.Chunks)),
		unmanagedRefs: make(map[string]string, len(m.Unmanaged)),
	}
	for _, opt := range opts {
		opt(t)
	}
	for vid := range m.Chunks {
		t.entries[vid] = newEntry()
	}
	for _, p := range m.Unmanaged {
		t.unmanagedRefs[chunk.VirtualID(p)] = joinBase(m.Base, p)
	}
	return t
}

// State returns the current resolution state of vid.
func (t *Table) State(vid string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[vid]
	if !ok {
		return StateUnresolved
	}
	return e.state
}

// Trace returns a copy of the trace recorded so far.
func (t *Table) Trace() []TraceEvent {
	t.traceMu.Lock()
	defer t.traceMu.Unlock()
	out := make([]TraceEvent, len(t.trace))
	copy(out, t.trace)
	return out
}

func (t *Table) event(typ, vid, detail string) {
	t.traceMu.Lock()
	t.trace = append(t.trace, TraceEvent{
		Seq:       t.clock.Next(),
		Type:      typ,
		VirtualID: vid,
		Detail:    detail,
	})
	t.traceMu.Unlock()
}

// Resolve resolves vid to its final re-importable reference. A second
// caller for an identifier already in flight observes the same
// resolution and the same outcome; no duplicate work is started.
func (t *Table) Resolve(ctx context.Context, vid string) (string, error) {
	e, claimed := t.claim(vid)
	if claimed {
		t.run(ctx, vid, e)
	}
	return t.await(ctx, e)
}

// claim transitions vid's placeholder from Unresolved to Resolving.
// The second return is true iff the caller won the claim and must run
// the resolution.
func (t *Table) claim(vid string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[vid]
	if e == nil {
		// Not declared by the manifest. Allocate a placeholder anyway
		// so every dependent observes one shared failure.
		e = newEntry()
		t.entries[vid] = e
	}
	if e.state != StateUnresolved {
		return e, false
	}
	e.state = StateResolving
	return e, true
}

// run performs the resolution the caller claimed and drives the entry
// to its terminal state.
func (t *Table) run(ctx context.Context, vid string, e *entry) {
	t.event(EventResolveStart, vid, "")
	ref, err := t.materialize(ctx, vid)

	t.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.err = err
	} else {
		e.state = StateResolved
		e.ref = ref
	}
	close(e.done)
	t.mu.Unlock()

	if err != nil {
		t.event(EventFailed, vid, errDetail(err))
		t.log.Error("resolution failed", "id", vid, "err", err)
		return
	}
	t.event(EventResolved, vid, "")
}

// await blocks until e reaches a terminal state.
func (t *Table) await(ctx context.Context, e *entry) (string, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.state == StateFailed {
		return "", e.err
	}
	return e.ref, nil
}

// materialize fetches vid's bytes, resolves its dependencies,
// substitutes their references into the code, and loads the unit plus
// its export shim. Returns the shim reference.
func (t *Table) materialize(ctx context.Context, vid string) (string, error) {
	rec, ok := t.manifest.Chunks[vid]
	if !ok {
		return "", newMissingEntryError(vid)
	}

	data, source, err := t.fetcher.Bytes(ctx, vid, rec.Hash, rec.Path)
	if err != nil {
		return "", &ResolveError{
			Code:      ErrCodeFetchFailed,
			Message:   "chunk bytes unavailable",
			VirtualID: vid,
			Err:       err,
		}
	}
	switch source {
	case fetch.SourceStore:
		t.event(EventStoreHit, vid, "")
	case fetch.SourceNetwork:
		t.event(EventNetworkFetch, vid, "")
	}

	subs := make(map[string]string, len(rec.Deps)+len(rec.Unmanaged))
	for _, dep := range rec.Deps {
		ref, err := t.resolveDep(ctx, dep)
		if err != nil {
			return "", newDependencyError(vid, dep, err)
		}
		subs[dep] = ref
	}
	for _, p := range rec.Unmanaged {
		uvid := chunk.VirtualID(p)
		subs[uvid] = t.unmanagedRefs[uvid]
	}

	unitRef, err := t.loader.Load(ctx, vid, substitute(data, subs))
	if err != nil {
		return "", &ResolveError{
			Code:      ErrCodeLoadFailed,
			Message:   "module unit rejected",
			VirtualID: vid,
			Err:       err,
		}
	}
	shimRef, err := t.loader.Load(ctx, vid+shimSuffix, shimCode(unitRef, rec.HasDefault))
	if err != nil {
		return "", &ResolveError{
			Code:      ErrCodeLoadFailed,
			Message:   "export shim rejected",
			VirtualID: vid,
			Err:       err,
		}
	}
	return shimRef, nil
}

// resolveDep resolves a dependency edge. Unlike Resolve it never blocks
// on an in-flight resolution: an edge landing on a Resolving identifier
// is the cycle guard, and gets a lazy alias instead. Because edges
// never wait, resolution cannot deadlock on any graph shape.
func (t *Table) resolveDep(ctx context.Context, dep string) (string, error) {
	e, claimed := t.claim(dep)
	if claimed {
		t.run(ctx, dep, e)
		return t.await(ctx, e)
	}
	t.mu.Lock()
	mid := e.state == StateResolving
	t.mu.Unlock()
	if mid {
		return t.alias(ctx, dep, e)
	}
	return t.await(ctx, e)
}

// alias constructs (once) the lazy alias for an identifier that is
// mid-resolution. The alias re-exports from the virtual identifier
// itself, resolved through the installed table, so it goes live the
// moment the table is installed.
func (t *Table) alias(ctx context.Context, vid string, e *entry) (string, error) {
	e.aliasOnce.Do(func() {
		t.event(EventAlias, vid, "")
		hasDefault := t.manifest.Chunks[vid].HasDefault
		e.aliasRef, e.aliasErr = t.loader.Load(ctx, vid+aliasSuffix, aliasCode(vid, hasDefault))
	})
	if e.aliasErr != nil {
		return "", &ResolveError{
			Code:      ErrCodeLoadFailed,
			Message:   "alias construction failed",
			VirtualID: vid,
			Err:       e.aliasErr,
		}
	}
	return e.aliasRef, nil
}

// substitute replaces quoted virtual identifiers in module source with
// their concrete references. Both quote styles the build emits are
// handled.
func substitute(data []byte, subs map[string]string) []byte {
	if len(subs) == 0 {
		return data
	}
	code := string(data)
	for vid, ref := range subs {
		code = strings.ReplaceAll(code, `"`+vid+`"`, `"`+ref+`"`)
		code = strings.ReplaceAll(code, `'`+vid+`'`, `'`+ref+`'`)
	}
	return []byte(code)
}

// shimCode builds the thin module that re-exports a loaded unit under a
// stable reference. "export *" does not forward default, so default is
// forwarded explicitly when the chunk has one.
func shimCode(ref string, hasDefault bool) []byte {
	return reexport(ref, hasDefault)
}

// aliasCode builds a lazy alias targeting the virtual identifier, not a
// concrete ref. It is only importable after the table is installed,
// which is exactly when cyclic dependents begin executing.
func aliasCode(vid string, hasDefault bool) []byte {
	return reexport(vid, hasDefault)
}

func reexport(target string, hasDefault bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "export * from %q;\n", target)
	if hasDefault {
		fmt.Fprintf(&b, "export { default } from %q;\n", target)
	}
	return []byte(b.String())
}

func errDetail(err error) string {
	var re *ResolveError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return err.Error()
}

// joinBase joins the serving base with a build-output path.
func joinBase(base, p string) string {
	if base == "" {
		return p
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}
