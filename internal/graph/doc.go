// Package graph builds the execution plan for a pipeline manifest. It
// resolves every artifact reference to its producer, pins stages to
// their phase barriers, and rejects manifests with duplicate writers,
// dangling inputs, or dependency cycles before anything runs.
package graph
