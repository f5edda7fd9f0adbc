package ports

import "errors"

// Sentinel errors shared across adapter implementations. Callers match them
// with errors.Is after unwrapping the contextual message.
var (
	// ErrRunNotFound is returned when a run id has no stored state.
	ErrRunNotFound = errors.New("run not found")

	// ErrArtifactExists is returned when a run tries to write an artifact
	// name a second time.
	ErrArtifactExists = errors.New("artifact already exists")

	// ErrArtifactNotFound is returned when a declared artifact is missing
	// at read time. The scheduler treats this as fatal: it means an input
	// was read before its producer ran.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrCacheMiss is returned when a cache key has no stored payload.
	// Cache misses are expected and never fail a run.
	ErrCacheMiss = errors.New("cache miss")
)
