// Package chunk provides the canonical data model shared by the build and
// runtime halves of ModVault.
//
// This package contains type definitions and the virtual identifier scheme
// only. All other internal packages import chunk; chunk imports nothing
// internal. This ensures the data model remains the foundational layer with
// no circular dependencies.
//
// Key design constraints:
//   - A chunk's identity is its final build-output path, never its source path
//   - Virtual identifiers are a pure, injective function of that path
//   - Content hashes are computed over final rewritten bytes, never earlier
//   - All JSON tags use snake_case
package chunk
