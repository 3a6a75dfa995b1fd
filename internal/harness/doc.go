// Package harness provides a conformance testing framework for the full
// ModVault pipeline.
//
// A scenario is a YAML file describing a chunk graph, a build
// configuration, and expectations about the resolution that follows:
// which chunks resolve, which fail, how many network fetches happen, and
// whether the bootstrap accepts or rejects. The harness runs the whole
// pipeline in process: it rewrites the chunks, builds the manifest,
// serves the rewritten output from an in-process HTTP server, and
// bootstraps the resolution table against an in-memory loader and store.
//
// Scenarios run with a sequential bootstrap by default so the resolution
// trace is deterministic and can be compared against golden files.
package harness
