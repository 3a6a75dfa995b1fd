// Package rewrite transforms inter-chunk module references so that any
// reference touching a managed chunk uses a virtual identifier instead of a
// relative path.
//
// Matching operates on the tree-sitter syntax tree, never on substrings.
// The recognized forms are the static ESM surface:
//
//	import x from "./p"            import { a as b } from "./p"
//	import * as ns from "./p"      import "./p"
//	export { a } from "./p"        export * from "./p"
//	export * as ns from "./p"      import("./p")
//
// Only the quoted specifier is replaced; binding lists, aliases, and
// statement structure are untouched, so binding semantics are preserved
// exactly. A reference that matches no recognized form (a dynamic import
// with a computed specifier, a template-string specifier, a reference to a
// chunk outside the graph) is left as written and reported as a Warning:
// rewriting must never corrupt code it does not fully understand.
//
// Rewriting happens before hashing. Once a chunk is loaded from an
// ephemeral handle at runtime it cannot resolve relative paths against its
// synthetic location, so every reference crossing the managed boundary has
// to be converted to a stable, context-independent identifier here.
package rewrite
