package chunk

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Manifest is the single serialized contract between the build and runtime
// halves. It is embedded into the runtime bootstrap artifact once per build
// and is immutable afterwards.
//
// The manifest must be self-describing: the runtime never inspects chunk
// bytes to discover dependencies it was not told about. Unmanaged chunks
// required by managed chunks are declared here explicitly (globally
// qualified URL resolution is deliberately not supported).
type Manifest struct {
	// Entry is the virtual identifier of the entry chunk.
	Entry string `json:"entry"`

	// Base is the path prefix chunks are served under, e.g. "/assets/".
	Base string `json:"base"`

	// Chunks maps each managed virtual identifier to its record.
	Chunks map[string]ManifestChunk `json:"chunks"`

	// Unmanaged lists build-output paths of unmanaged chunks that managed
	// chunks transitively require. Registered directly at runtime by
	// server path, never resolved by hash.
	Unmanaged []string `json:"unmanaged,omitempty"`
}

// ManifestChunk is the per-chunk entry of a Manifest.
type ManifestChunk struct {
	// Hash is the lowercase hex SHA-256 digest of the chunk's final
	// rewritten bytes. This is the content-addressed store key.
	Hash string `json:"hash"`

	// Path is the chunk's build-output path, used for the network
	// fallback fetch relative to Manifest.Base.
	Path string `json:"path"`

	// HasDefault reports whether the chunk exports a default binding.
	// The runtime shim forwards "default" explicitly when set; a
	// namespace re-export alone would drop it.
	HasDefault bool `json:"has_default"`

	// Deps lists virtual identifiers of managed chunks this chunk
	// references.
	Deps []string `json:"deps,omitempty"`

	// Unmanaged lists build-output paths of unmanaged chunks this chunk
	// references.
	Unmanaged []string `json:"unmanaged,omitempty"`
}

// Validate checks manifest completeness: the entry is declared, every
// declared dependency resolves to a declared chunk or to the unmanaged
// list, and every hash is a well-formed SHA-256 hex digest.
func (m *Manifest) Validate() error {
	if m.Entry == "" {
		return fmt.Errorf("manifest: entry is required")
	}
	if _, ok := m.Chunks[m.Entry]; !ok {
		return fmt.Errorf("manifest: entry %q not declared in chunks", m.Entry)
	}

	unmanaged := make(map[string]bool, len(m.Unmanaged))
	for _, p := range m.Unmanaged {
		unmanaged[p] = true
	}

	for vid, mc := range m.Chunks {
		if !IsVirtual(vid) {
			return fmt.Errorf("manifest: %q is not a virtual identifier", vid)
		}
		if err := validateHash(mc.Hash); err != nil {
			return fmt.Errorf("manifest: chunk %s: %w", vid, err)
		}
		if mc.Path == "" {
			return fmt.Errorf("manifest: chunk %s: path is required", vid)
		}
		for _, dep := range mc.Deps {
			if _, ok := m.Chunks[dep]; !ok {
				return fmt.Errorf("manifest: chunk %s: dependency %s not declared", vid, dep)
			}
		}
		for _, p := range mc.Unmanaged {
			if !unmanaged[p] {
				return fmt.Errorf("manifest: chunk %s: unmanaged dependency %q not declared", vid, p)
			}
		}
	}
	return nil
}

// SortedIDs returns the managed virtual identifiers in lexical order.
// Used wherever deterministic iteration matters (traces, golden files,
// sequential bootstrap).
func (m *Manifest) SortedIDs() []string {
	ids := make([]string, 0, len(m.Chunks))
	for vid := range m.Chunks {
		ids = append(ids, vid)
	}
	sort.Strings(ids)
	return ids
}

// Encode serializes the manifest as indented JSON. Go's encoder emits map
// keys in sorted order, so output is deterministic for a given manifest.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeManifest parses and validates a serialized manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateHash(h string) error {
	if len(h) != 64 {
		return fmt.Errorf("hash %q is not a SHA-256 hex digest", h)
	}
	for _, c := range h {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return fmt.Errorf("hash %q is not lowercase hex", h)
		}
	}
	return nil
}
