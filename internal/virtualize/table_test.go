package virtualize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/fetch"
	"github.com/modvault/modvault/internal/testutil"
)

type fixtureChunk struct {
	path       string
	code       string
	deps       []string
	unmanaged  []string
	hasDefault bool
}

// buildFixture assembles a manifest plus the server file map from a set
// of already-rewritten chunks.
func buildFixture(entryPath string, chunks []fixtureChunk) (*chunk.Manifest, map[string][]byte) {
	m := &chunk.Manifest{
		Entry:  chunk.VirtualID(entryPath),
		Base:   "/assets/",
		Chunks: make(map[string]chunk.ManifestChunk, len(chunks)),
	}
	files := make(map[string][]byte, len(chunks))
	seen := make(map[string]bool)
	for _, c := range chunks {
		sum := sha256.Sum256([]byte(c.code))
		m.Chunks[chunk.VirtualID(c.path)] = chunk.ManifestChunk{
			Hash:       hex.EncodeToString(sum[:]),
			Path:       c.path,
			HasDefault: c.hasDefault,
			Deps:       c.deps,
			Unmanaged:  c.unmanaged,
		}
		files[c.path] = []byte(c.code)
		for _, u := range c.unmanaged {
			if !seen[u] {
				seen[u] = true
				m.Unmanaged = append(m.Unmanaged, u)
			}
		}
	}
	return m, files
}

func newTable(t *testing.T, m *chunk.Manifest, files map[string][]byte, opts ...Option) (*Table, *testutil.MemoryLoader, *testutil.CountingHandler) {
	t.Helper()
	handler := testutil.NewCountingHandler(files)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := fetch.New(srv.URL, testutil.NewMemoryStore(), fetch.WithLogger(log.New(io.Discard)))
	loader := testutil.NewMemoryLoader()
	opts = append(opts, WithLogger(log.New(io.Discard)))
	return New(m, f, loader, opts...), loader, handler
}

func TestBootstrap_ResolvesGraphAndImportsEntry(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{
			path: "entry.js",
			code: "import { a } from \"modvault:a.js\";\nexport const main = a;\n",
			deps: []string{"modvault:a.js"},
		},
		{
			path:       "a.js",
			code:       "import { v } from \"modvault:vendor.js\";\nexport const a = v + 1;\nexport default a;\n",
			unmanaged:  []string{"vendor.js"},
			hasDefault: true,
		},
	})
	table, loader, _ := newTable(t, m, files)

	require.NoError(t, table.Bootstrap(context.Background()))

	assert.Equal(t, 1, loader.Installs())
	assert.Equal(t, []string{"modvault:entry.js"}, loader.Imports())

	installed := loader.Installed()
	assert.Equal(t, testutil.Ref("modvault:entry.js!shim"), installed["modvault:entry.js"])
	assert.Equal(t, testutil.Ref("modvault:a.js!shim"), installed["modvault:a.js"])
	// Unmanaged chunks are registered by direct URL, never by hash.
	assert.Equal(t, "/assets/vendor.js", installed["modvault:vendor.js"])
	ref, ok := table.UnmanagedRef("vendor.js")
	assert.True(t, ok)
	assert.Equal(t, "/assets/vendor.js", ref)
	_, ok = table.UnmanagedRef("absent.js")
	assert.False(t, ok)

	// The entry unit references a's shim, not the virtual identifier.
	entryCode := string(loader.Code("modvault:entry.js"))
	assert.Contains(t, entryCode, `"ref:modvault:a.js!shim"`)
	assert.NotContains(t, entryCode, `"modvault:a.js"`)

	// a's unit references the unmanaged chunk by its served URL.
	aCode := string(loader.Code("modvault:a.js"))
	assert.Contains(t, aCode, `"/assets/vendor.js"`)

	// a has a default export, so its shim forwards it explicitly.
	shim := string(loader.Code("modvault:a.js!shim"))
	assert.Contains(t, shim, `export * from "ref:modvault:a.js"`)
	assert.Contains(t, shim, `export { default } from "ref:modvault:a.js"`)

	for _, vid := range []string{"modvault:entry.js", "modvault:a.js"} {
		assert.Equal(t, StateResolved, table.State(vid))
	}
}

func TestBootstrap_CycleBreaksWithLazyAlias(t *testing.T) {
	m, files := buildFixture("x.js", []fixtureChunk{
		{
			path: "x.js",
			code: "import { y } from \"modvault:y.js\";\nexport const x = () => y;\n",
			deps: []string{"modvault:y.js"},
		},
		{
			path: "y.js",
			code: "import { x } from \"modvault:x.js\";\nexport const y = () => x;\n",
			deps: []string{"modvault:x.js"},
		},
	})
	table, loader, _ := newTable(t, m, files, WithSequential())

	require.NoError(t, table.Bootstrap(context.Background()))

	assert.Equal(t, StateResolved, table.State("modvault:x.js"))
	assert.Equal(t, StateResolved, table.State("modvault:y.js"))

	// Sorted order starts at x, which recurses into y; y's edge back to
	// x hits the cycle guard and gets a lazy alias.
	alias := loader.Code("modvault:x.js!alias")
	require.NotNil(t, alias, "cycle edge must construct an alias")
	// The alias targets the virtual identifier itself: it resolves
	// through the table installed later, not through a concrete ref.
	assert.Contains(t, string(alias), `export * from "modvault:x.js"`)

	// y's unit imports the alias in place of the unfinished x.
	yCode := string(loader.Code("modvault:y.js"))
	assert.Contains(t, yCode, testutil.Ref("modvault:x.js!alias"))

	// Both identifiers still end up in the installed table, so the
	// alias goes live before anything executes.
	installed := loader.Installed()
	assert.Contains(t, installed, "modvault:x.js")
	assert.Contains(t, installed, "modvault:y.js")

	var aliases int
	for _, ev := range table.Trace() {
		if ev.Type == EventAlias {
			aliases++
		}
	}
	assert.Equal(t, 1, aliases)
}

func TestResolve_ConcurrentRequestersShareOneResolution(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{path: "entry.js", code: "export const main = 1;\n"},
	})
	table, _, handler := newTable(t, m, files)

	const n = 8
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := table.Resolve(context.Background(), "modvault:entry.js")
			assert.NoError(t, err)
			refs[i] = ref
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, handler.Count("entry.js"), "in-flight resolution must be shared")
	for _, ref := range refs {
		assert.Equal(t, refs[0], ref)
	}
}

func TestBootstrap_FailureOutsideEntryClosure(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{path: "entry.js", code: "export const main = 1;\n"},
		{path: "orphan.js", code: "export const o = 1;\n"},
	})
	// The orphan's bytes are unavailable everywhere.
	delete(files, "orphan.js")
	table, loader, _ := newTable(t, m, files)

	require.NoError(t, table.Bootstrap(context.Background()))

	assert.Equal(t, StateFailed, table.State("modvault:orphan.js"))
	assert.Equal(t, StateResolved, table.State("modvault:entry.js"))
	assert.Equal(t, []string{"modvault:entry.js"}, loader.Imports())
	assert.NotContains(t, loader.Installed(), "modvault:orphan.js")
}

func TestBootstrap_FailureInsideEntryClosureRejects(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{
			path: "entry.js",
			code: "import { a } from \"modvault:a.js\";\nexport const main = a;\n",
			deps: []string{"modvault:a.js"},
		},
		{path: "a.js", code: "export const a = 1;\n"},
	})
	delete(files, "a.js")
	table, loader, _ := newTable(t, m, files)

	err := table.Bootstrap(context.Background())
	require.Error(t, err)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeEntryImportFailed, re.Code)

	// Rejection happens before the loader ever sees a table: partial
	// visibility is never observable.
	assert.Equal(t, 0, loader.Installs())
	assert.Empty(t, loader.Imports())

	assert.Equal(t, StateFailed, table.State("modvault:entry.js"))
	assert.Equal(t, StateFailed, table.State("modvault:a.js"))
}

func TestResolve_MissingManifestEntryFailsFast(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{
			path: "entry.js",
			code: "import { g } from \"modvault:ghost.js\";\nexport const main = g;\n",
			deps: []string{"modvault:ghost.js"},
		},
	})
	table, _, _ := newTable(t, m, files)

	_, err := table.Resolve(context.Background(), "modvault:entry.js")
	require.Error(t, err)
	assert.True(t, IsDependencyFailure(err))
	assert.True(t, IsMissingEntry(err), "cause must surface the undeclared identifier")
	assert.Equal(t, StateFailed, table.State("modvault:ghost.js"))
}

func TestBootstrap_SequentialTraceIsDeterministic(t *testing.T) {
	m, files := buildFixture("entry.js", []fixtureChunk{
		{
			path: "entry.js",
			code: "import { a } from \"modvault:a.js\";\nexport const main = a;\n",
			deps: []string{"modvault:a.js"},
		},
		{path: "a.js", code: "export const a = 1;\n"},
	})
	table, _, _ := newTable(t, m, files, WithSequential())

	require.NoError(t, table.Bootstrap(context.Background()))

	var types []string
	var lastSeq int64
	for _, ev := range table.Trace() {
		require.Greater(t, ev.Seq, lastSeq, "seq must be strictly increasing")
		lastSeq = ev.Seq
		types = append(types, ev.Type)
	}
	// Sorted identifier order: a.js resolves before entry.js.
	assert.Equal(t, []string{
		EventResolveStart, EventNetworkFetch, EventResolved,
		EventResolveStart, EventNetworkFetch, EventResolved,
		EventTableInstall, EventEntryImport,
	}, types)
}

func TestSubstitute_BothQuoteStyles(t *testing.T) {
	subs := map[string]string{"modvault:a.js": "ref:a"}
	in := []byte(`import "modvault:a.js"; import 'modvault:a.js';`)
	out := string(substitute(in, subs))
	assert.Equal(t, `import "ref:a"; import 'ref:a';`, out)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unresolved", StateUnresolved.String())
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "resolved", StateResolved.String())
	assert.Equal(t, "failed", StateFailed.String())
}
