// Package store provides the content-addressed byte store the runtime
// resolver reads from and best-effort writes to.
//
// Entries are keyed by {algorithm, digest of exact byte content}. Because
// the key already enforces at-most-one-logical-value-per-key, writes are
// idempotent (same hash, same bytes) and concurrent writers never conflict;
// no locking is needed beyond what each backend's own durability mechanism
// provides.
//
// Two backends are provided:
//   - DirStore: a sharded directory tree, one file per entry, with
//     write-to-temp-then-rename finalization.
//   - SQLiteStore: a single SQLite database in WAL mode, one row per entry,
//     finalized with INSERT OR IGNORE.
//
// A cache miss is reported as ErrNotFound and is never an error condition
// for callers; any other failure is a real store fault.
package store
