// Package storage provides run state storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL-based retention
//   - memory: In-memory for tests and one-shot CLI runs
package storage
