// Package domain defines the core types of the pipeline orchestrator:
// runs, stages, artifacts, tool invocations, triggers and lifecycle events.
//
// Types here carry no behavior beyond small helpers; execution semantics
// live in the application layer and adapters depend on this package only
// through the ports interfaces.
package domain
