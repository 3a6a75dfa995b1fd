// Package virtualize builds the runtime resolution table that maps each
// virtual identifier to a concrete, re-importable reference.
//
// ARCHITECTURE:
//
// Placeholder-First Resolution:
// A placeholder entry is allocated for every identifier in the manifest
// before any fetch begins. Dependents subscribe to the placeholder, never
// to a completed value, so resolutions can run in any order.
//
// State machine per identifier:
//
//	Unresolved -> Resolving -> {Resolved | Failed}
//
// Terminal states do not transition further within one page load.
//
// Cycle Breaking:
// A dependency edge that lands on an identifier already in the Resolving
// state is redirected into lazy alias construction instead of recursion or
// blocking. The alias is a thin module that re-exports everything from the
// target's virtual identifier; it goes live the moment the resolution
// table is installed. Two mutually-referencing chunks each start
// resolving, each discover the other mid-flight, and each receive an alias
// that becomes live once both finish. Because dependency edges never
// block, resolution cannot deadlock regardless of graph shape or
// concurrency.
//
// Bootstrap Ordering:
// The full table - every resolved managed chunk plus every directly
// registered unmanaged chunk - is installed into the execution environment
// in one atomic step before the entry module is imported. Partial table
// visibility is never observable: the entry's own top-level references are
// satisfiable the instant it begins executing.
//
// The table is page-load-scoped state: construct one per bootstrap
// invocation and discard it, never reset it mid-session.
package virtualize
