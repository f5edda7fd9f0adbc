// Package artifacts provides the artifact store backends. Artifacts are
// content-addressed blobs namespaced by run, written exactly once per
// name: the fs backend keeps a sharded object directory with per-run
// name indexes, the memory backend serves tests.
package artifacts
