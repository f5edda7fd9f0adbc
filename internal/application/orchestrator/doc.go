// Package orchestrator implements the run lifecycle around the executor.
//
// The manager coordinates pipeline runs by:
//   - Validating pipeline structure and artifact dependencies
//   - Managing the run lifecycle (submit, wait, cancel)
//   - Publishing lifecycle events to the event bus
//   - Tracking run state via the run store
//
// Structural validation is delegated to the graph package, which rejects
// cycles, duplicate writers and dangling inputs before any run state
// exists.
package orchestrator
