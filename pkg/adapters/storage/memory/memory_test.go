package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

func sampleRun(id string, submitted time.Time) *domain.PipelineRun {
	return &domain.PipelineRun{
		RunID:       id,
		Pipeline:    "devsecops",
		Status:      domain.RunStatusPending,
		Phases:      []string{"build"},
		SubmittedAt: submitted,
		Stages: map[string]*domain.StageState{
			"compile": {StageID: "compile", Phase: "build", Status: domain.StageStatusPending},
		},
	}
}

func TestSaveGetIsolatesCallers(t *testing.T) {
	s := NewRunStore()
	ctx := context.Background()

	run := sampleRun("run-1", time.Now())
	require.NoError(t, s.SaveRun(ctx, run))

	// Mutations after save must not leak into the store.
	run.Status = domain.RunStatusFailed
	run.Stages["compile"].Status = domain.StageStatusFailed

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPending, got.Status)
	require.Equal(t, domain.StageStatusPending, got.Stages["compile"].Status)

	// Mutating a fetched copy must not affect the next reader.
	got.Status = domain.RunStatusSuccess
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusPending, again.Status)
}

func TestGetMissingRun(t *testing.T) {
	s := NewRunStore()

	_, err := s.GetRun(context.Background(), "ghost")
	require.ErrorIs(t, err, ports.ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := NewRunStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.SaveRun(ctx, sampleRun("older", base.Add(-time.Hour))))
	require.NoError(t, s.SaveRun(ctx, sampleRun("newest", base)))
	require.NoError(t, s.SaveRun(ctx, sampleRun("oldest", base.Add(-2*time.Hour))))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "newest", runs[0].RunID)
	require.Equal(t, "older", runs[1].RunID)
	require.Equal(t, "oldest", runs[2].RunID)
}

func TestDeleteRun(t *testing.T) {
	s := NewRunStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleRun("run-1", time.Now())))
	require.NoError(t, s.DeleteRun(ctx, "run-1"))

	_, err := s.GetRun(ctx, "run-1")
	require.ErrorIs(t, err, ports.ErrRunNotFound)

	// Deleting a missing run is not an error.
	require.NoError(t, s.DeleteRun(ctx, "run-1"))
}
