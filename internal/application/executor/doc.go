// Package executor drives a single pipeline run to a terminal status.
//
// The executor walks phases as strict barriers:
//   - Every stage of a phase reaches a terminal state before the next
//     phase starts
//   - Within a phase, stages run concurrently behind a counting
//     admission gate
//   - A fatal stage failure stops dispatch; running stages finish,
//     everything not yet started is skipped
//
// Stage goroutines only invoke tools and move artifacts; all run state
// mutation happens on the executor's own goroutine, so run snapshots
// saved to the store are never written concurrently.
package executor
