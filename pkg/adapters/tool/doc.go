// Package tool invokes stage commands. ExecRunner runs them as local
// subprocesses with captured output and a per-stage timeout; MockRunner
// replays scripted outcomes for tests. Both report tool failures as
// invocation values, never as Go errors.
package tool
