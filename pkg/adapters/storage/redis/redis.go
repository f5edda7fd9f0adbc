package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// RunStore implements ports.RunStore using Redis
type RunStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store. Runs expire ttl after
// their last save; a non-positive ttl keeps them until deleted.
func NewRunStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists the full run state (ports.RunStore interface)
func (s *RunStore) SaveRun(ctx context.Context, run *domain.PipelineRun) error {
	key := getRunKey(run.RunID)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun retrieves a run by id (ports.RunStore interface)
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	key := getRunKey(runID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run %s: %w", runID, ports.ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all stored runs, newest first (ports.RunStore interface)
func (s *RunStore) ListRuns(ctx context.Context) ([]*domain.PipelineRun, error) {
	pattern := "phaseline:run:*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	runs := make([]*domain.PipelineRun, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}

		var run domain.PipelineRun
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("skipping corrupt run record", zap.String("key", key))
			continue
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
	key := getRunKey(runID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	s.logger.Debug("run deleted",
		zap.String("run_id", runID))

	return nil
}

// getRunKey returns the Redis key for a pipeline run
func getRunKey(runID string) string {
	return fmt.Sprintf("phaseline:run:%s", runID)
}
