// Package cache provides the cross-run cache store backends. Cache
// entries live outside the per-run artifact namespace and are looked up
// by their rendered stable key: redis for server deployments, fs for
// CLI runs that need persistence across processes, memory for tests.
package cache
