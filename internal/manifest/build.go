// Package manifest computes content hashes for managed chunks and
// assembles the manifest, the single artifact crossing the build/runtime
// boundary.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/rewrite"
)

// HashBytes returns the lowercase hex SHA-256 digest of data. This is the
// content-addressed identity: any two builds, anywhere, that produce
// byte-identical chunks produce the same digest and share one cached copy.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build assembles managed chunk records and the manifest from a completed
// rewrite.
//
// Ordering constraint: hashing consumes rewrite.Result, never raw chunks.
// A chunk's digest covers the exact bytes that will be served, which only
// exist after every reference in them has been rewritten. Taking the
// rewrite result as input makes hash-before-rewrite unrepresentable.
func Build(ctx context.Context, result *rewrite.Result, managed func(string) bool, entryPath, base string) (*chunk.Manifest, []chunk.Record, error) {
	entryVID := chunk.VirtualID(entryPath)
	if !managed(entryPath) {
		return nil, nil, fmt.Errorf("manifest: entry chunk %q is not managed; a cached entry is the point of the exercise", entryPath)
	}

	m := &chunk.Manifest{
		Entry:  entryVID,
		Base:   base,
		Chunks: make(map[string]chunk.ManifestChunk),
	}

	var records []chunk.Record
	unmanagedSet := make(map[string]bool)

	for _, c := range result.Chunks {
		if !managed(c.Path) {
			continue
		}
		refs := result.Refs[c.Path]

		shape, err := rewrite.Shape(ctx, c.Code)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: detecting exports of %s: %w", c.Path, err)
		}

		rec := chunk.Record{
			Chunk:         c,
			VirtualID:     chunk.VirtualID(c.Path),
			Hash:          HashBytes(c.Code),
			Shape:         shape,
			ManagedDeps:   refs.Managed,
			UnmanagedDeps: refs.Unmanaged,
		}
		records = append(records, rec)

		m.Chunks[rec.VirtualID] = chunk.ManifestChunk{
			Hash:       rec.Hash,
			Path:       c.Path,
			HasDefault: shape.HasDefault,
			Deps:       refs.Managed,
			Unmanaged:  refs.Unmanaged,
		}
		for _, p := range refs.Unmanaged {
			unmanagedSet[p] = true
		}
	}

	for p := range unmanagedSet {
		m.Unmanaged = append(m.Unmanaged, p)
	}
	sort.Strings(m.Unmanaged)
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })

	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return m, records, nil
}
