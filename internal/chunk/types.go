package chunk

// Chunk is a unit of compiled code as produced by the external bundling
// step. Identity is the final build-output path (forward slashes, relative
// to the output root). Immutable once rewriting is complete.
type Chunk struct {
	// Path is the build-output path, e.g. "assets/app-Bx91.js".
	Path string `json:"path"`

	// Code is the byte payload. The rewriter replaces this with the
	// rewritten payload; hashing always happens afterwards.
	Code []byte `json:"-"`

	// Deps lists statically-declared dependencies by build-output path,
	// as reported by the bundler.
	Deps []string `json:"deps,omitempty"`

	// DynamicDeps lists dynamically-imported dependencies by build-output
	// path, as reported by the bundler.
	DynamicDeps []string `json:"dynamic_deps,omitempty"`
}

// ExportShape describes the export surface of a chunk.
//
// HasDefault must be tracked explicitly: the runtime re-export shim uses a
// namespace re-export, which does not carry a default binding. Without this
// flag a chunk's default export would silently vanish after virtualization.
type ExportShape struct {
	// Named lists the named export bindings, sorted.
	Named []string `json:"named,omitempty"`

	// HasDefault reports whether the chunk has a default export, either
	// "export default ..." or "export { x as default }".
	HasDefault bool `json:"has_default"`

	// Reexports lists source paths of "export ... from" statements, as
	// written before rewriting. Informational only.
	Reexports []string `json:"reexports,omitempty"`
}

// Record is a managed chunk plus everything derived from it during the
// build: its virtual identifier, its export shape, the references the
// rewriter found, and (last) its content hash.
//
// Invariant: Hash is computed strictly after all rewriting of this chunk's
// own bytes is finished, and changes if and only if the final bytes change.
type Record struct {
	Chunk

	// VirtualID is derived from Path via VirtualID.
	VirtualID string `json:"virtual_id"`

	// Hash is the lowercase hex SHA-256 digest of the final rewritten
	// bytes. Empty until the manifest builder runs.
	Hash string `json:"hash,omitempty"`

	// Shape is the export surface detected from the rewritten code.
	Shape ExportShape `json:"shape"`

	// ManagedDeps lists virtual identifiers of managed chunks this chunk
	// references (static or dynamic) after rewriting.
	ManagedDeps []string `json:"managed_deps,omitempty"`

	// UnmanagedDeps lists build-output paths of unmanaged chunks this
	// chunk references after rewriting. Resolved by direct registration
	// at runtime, never by hash.
	UnmanagedDeps []string `json:"unmanaged_deps,omitempty"`
}
