// Package ports declares the interfaces between the orchestration core and
// its adapters: event bus, run store, artifact store, cache store, tool
// runner and metrics collector.
//
// Implementations live under pkg/adapters. The application layer depends on
// these interfaces only, so backends (redis vs memory, exec vs mock) swap
// without touching execution logic.
package ports
