package manifest

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/rewrite"
)

func managedSet(paths ...string) func(string) bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(p string) bool { return set[p] }
}

// buildGraph runs the selector-rewrite-manifest pipeline over a literal
// chunk set.
func buildGraph(t *testing.T, chunks []chunk.Chunk, managed func(string) bool, entry string) (*chunk.Manifest, []chunk.Record) {
	t.Helper()
	ctx := context.Background()
	result, err := rewrite.Graph(ctx, chunks, managed)
	require.NoError(t, err)
	m, records, err := Build(ctx, result, managed, entry, "/assets/")
	require.NoError(t, err)
	return m, records
}

func testChunks() []chunk.Chunk {
	return []chunk.Chunk{
		{Path: "entry.js", Code: []byte(`import { a } from "./a.js";` + "\n" + `export const main = () => a;`)},
		{Path: "a.js", Code: []byte(`import "./vendor.js";` + "\n" + `export const a = 1;` + "\n" + `export default a;`)},
		{Path: "vendor.js", Code: []byte(`console.log("side effect");`)},
	}
}

func TestBuild_ManifestShape(t *testing.T) {
	m, records := buildGraph(t, testChunks(), managedSet("entry.js", "a.js"), "entry.js")

	assert.Equal(t, chunk.VirtualID("entry.js"), m.Entry)
	assert.Equal(t, "/assets/", m.Base)
	require.Len(t, m.Chunks, 2)
	require.Len(t, records, 2)

	entry := m.Chunks[chunk.VirtualID("entry.js")]
	assert.Equal(t, "entry.js", entry.Path)
	assert.Equal(t, []string{chunk.VirtualID("a.js")}, entry.Deps)
	assert.False(t, entry.HasDefault)

	a := m.Chunks[chunk.VirtualID("a.js")]
	assert.True(t, a.HasDefault)
	assert.Equal(t, []string{"vendor.js"}, a.Unmanaged)

	// Unmanaged dependencies are manifest-declared, the runtime never
	// discovers them from chunk bytes.
	assert.Equal(t, []string{"vendor.js"}, m.Unmanaged)
}

func TestBuild_HashCoversRewrittenBytes(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks()
	managed := managedSet("entry.js", "a.js")

	result, err := rewrite.Graph(ctx, chunks, managed)
	require.NoError(t, err)
	m, _, err := Build(ctx, result, managed, "entry.js", "/assets/")
	require.NoError(t, err)

	// The digest must match the final rewritten bytes, not the input.
	entryVID := chunk.VirtualID("entry.js")
	assert.Equal(t, HashBytes(result.Chunks[0].Code), m.Chunks[entryVID].Hash)
	assert.NotEqual(t, HashBytes(chunks[0].Code), m.Chunks[entryVID].Hash,
		"entry references a managed chunk, so rewriting must have changed its bytes")
}

func TestBuild_HashDeterminism(t *testing.T) {
	m1, _ := buildGraph(t, testChunks(), managedSet("entry.js", "a.js"), "entry.js")
	m2, _ := buildGraph(t, testChunks(), managedSet("entry.js", "a.js"), "entry.js")
	assert.Equal(t, m1, m2)
}

func TestBuild_SiblingHashIndependence(t *testing.T) {
	base := testChunks()
	m1, _ := buildGraph(t, base, managedSet("entry.js", "a.js"), "entry.js")

	// Changing a chunk that entry does not depend on must not move
	// entry's digest. vendor.js is unmanaged and unreferenced by entry.
	changed := testChunks()
	changed[2].Code = []byte(`console.log("different side effect");`)
	m2, _ := buildGraph(t, changed, managedSet("entry.js", "a.js"), "entry.js")

	entryVID := chunk.VirtualID("entry.js")
	assert.Equal(t, m1.Chunks[entryVID].Hash, m2.Chunks[entryVID].Hash)

	// Changing a.js changes a.js's digest but not entry's: entry refers
	// to a.js by virtual identifier, not by hash.
	changed2 := testChunks()
	changed2[1].Code = append(changed2[1].Code, []byte("\nexport const extra = 2;")...)
	m3, _ := buildGraph(t, changed2, managedSet("entry.js", "a.js"), "entry.js")

	aVID := chunk.VirtualID("a.js")
	assert.NotEqual(t, m1.Chunks[aVID].Hash, m3.Chunks[aVID].Hash)
	assert.Equal(t, m1.Chunks[entryVID].Hash, m3.Chunks[entryVID].Hash)
}

func TestBuild_EntryMustBeManaged(t *testing.T) {
	ctx := context.Background()
	chunks := testChunks()
	managed := managedSet("a.js")

	result, err := rewrite.Graph(ctx, chunks, managed)
	require.NoError(t, err)
	_, _, err = Build(ctx, result, managed, "entry.js", "/assets/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not managed")
}

func TestBuild_GoldenManifest(t *testing.T) {
	m, _ := buildGraph(t, testChunks(), managedSet("entry.js", "a.js"), "entry.js")
	data, err := m.Encode()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "manifest", data)
}

func TestEmbedBootstrap(t *testing.T) {
	m, _ := buildGraph(t, testChunks(), managedSet("entry.js", "a.js"), "entry.js")
	artifact, err := EmbedBootstrap(m)
	require.NoError(t, err)

	s := string(artifact)
	assert.Contains(t, s, "globalThis.__MODVAULT_MANIFEST__ = {")
	assert.Contains(t, s, m.Entry)
	assert.True(t, len(s) > 0 && s[len(s)-1] == '\n')
}

func TestAnalyzeCycles(t *testing.T) {
	hash := HashBytes([]byte("x"))
	mk := func(deps map[string][]string) *chunk.Manifest {
		m := &chunk.Manifest{Entry: "modvault:a.js", Base: "/", Chunks: map[string]chunk.ManifestChunk{}}
		for vid, d := range deps {
			m.Chunks[vid] = chunk.ManifestChunk{Hash: hash, Path: "x.js", Deps: d}
		}
		return m
	}

	t.Run("dag has no warnings", func(t *testing.T) {
		m := mk(map[string][]string{
			"modvault:a.js": {"modvault:b.js"},
			"modvault:b.js": nil,
		})
		assert.Empty(t, AnalyzeCycles(m))
	})

	t.Run("mutual cycle reported once", func(t *testing.T) {
		m := mk(map[string][]string{
			"modvault:a.js": {"modvault:b.js"},
			"modvault:b.js": {"modvault:a.js"},
		})
		warnings := AnalyzeCycles(m)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Message, "cycle")
		assert.GreaterOrEqual(t, len(warnings[0].Path), 3)
	})

	t.Run("self loop", func(t *testing.T) {
		m := mk(map[string][]string{
			"modvault:a.js": {"modvault:a.js"},
		})
		warnings := AnalyzeCycles(m)
		require.Len(t, warnings, 1)
		assert.Equal(t, []string{"modvault:a.js", "modvault:a.js"}, warnings[0].Path)
	})
}
