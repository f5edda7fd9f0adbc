package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

type object struct {
	record domain.Artifact
	data   []byte
}

// Store implements ports.ArtifactStore with in-memory maps. It keeps
// the same write-once and content-address semantics as the fs backend
// and is meant for tests.
type Store struct {
	mu   sync.RWMutex
	runs map[string]map[string]object
}

// NewStore creates an empty in-memory artifact store.
func NewStore() *Store {
	return &Store{runs: make(map[string]map[string]object)}
}

// Put stores the payload under (runID, name), once.
func (s *Store) Put(ctx context.Context, runID, name, stage string, r io.Reader) (domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("reading artifact %q: %w", name, err)
	}
	sum := sha256.Sum256(data)

	art := domain.Artifact{
		Name:     name,
		Stage:    stage,
		Digest:   hex.EncodeToString(sum[:]),
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = make(map[string]object)
		s.runs[runID] = run
	}
	if _, exists := run[name]; exists {
		return domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactExists)
	}
	run[name] = object{record: art, data: data}

	return art, nil
}

// Open returns the payload of a stored artifact.
func (s *Store) Open(ctx context.Context, runID, name string) (io.ReadCloser, domain.Artifact, error) {
	s.mu.RLock()
	obj, ok := s.runs[runID][name]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.record, nil
}

// Stat returns the record of a stored artifact.
func (s *Store) Stat(ctx context.Context, runID, name string) (domain.Artifact, error) {
	s.mu.RLock()
	obj, ok := s.runs[runID][name]
	s.mu.RUnlock()

	if !ok {
		return domain.Artifact{}, fmt.Errorf("artifact %q in run %s: %w", name, runID, ports.ErrArtifactNotFound)
	}
	return obj.record, nil
}

// List returns the artifacts of a run, sorted by name.
func (s *Store) List(ctx context.Context, runID string) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run := s.runs[runID]
	artifacts := make([]domain.Artifact, 0, len(run))
	for _, obj := range run {
		artifacts = append(artifacts, obj.record)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}
