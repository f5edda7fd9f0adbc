package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// RunStore implements ports.RunStore using an in-memory map. Runs are
// deep-copied on the way in and out, so callers can keep mutating their
// own instance like they would with a remote store.
type RunStore struct {
	runs map[string][]byte
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string][]byte),
	}
}

// SaveRun persists the full run state (ports.RunStore interface)
func (s *RunStore) SaveRun(ctx context.Context, run *domain.PipelineRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.RunID] = data
	return nil
}

// GetRun retrieves a run by id (ports.RunStore interface)
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ports.ErrRunNotFound)
	}

	var run domain.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all stored runs, newest first (ports.RunStore interface)
func (s *RunStore) ListRuns(ctx context.Context) ([]*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*domain.PipelineRun, 0, len(s.runs))
	for _, data := range s.runs {
		var run domain.PipelineRun
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, &run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].SubmittedAt.After(runs[j].SubmittedAt)
	})

	return runs, nil
}

// DeleteRun removes a run (ports.RunStore interface)
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, runID)
	return nil
}
