package ports

import (
	"context"
	"io"
	"time"

	"github.com/aescanero/phaseline/pkg/domain"
)

// Bus topics for the run status feed.
const (
	TopicRunEvents   = "run.events"
	TopicStageEvents = "stage.events"
)

// EventHandler processes one event delivered by the bus.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus distributes run and stage lifecycle events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// RunStore persists pipeline run state.
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context) ([]*domain.PipelineRun, error)
	DeleteRun(ctx context.Context, runID string) error
}

// ArtifactStore keeps immutable artifact payloads, namespaced per run.
// Writing a name twice within a run fails with ErrArtifactExists; reading
// a name that was never written fails with ErrArtifactNotFound.
type ArtifactStore interface {
	Put(ctx context.Context, runID, name, stage string, r io.Reader) (domain.Artifact, error)
	Open(ctx context.Context, runID, name string) (io.ReadCloser, domain.Artifact, error)
	Stat(ctx context.Context, runID, name string) (domain.Artifact, error)
	List(ctx context.Context, runID string) ([]domain.Artifact, error)
}

// CacheStore persists cache artifacts across runs under a stable key.
// A missing key fails with ErrCacheMiss.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Invocation describes one tool execution request.
type Invocation struct {
	StageID string
	Command []string
	Env     map[string]string
	Workdir string
	Timeout time.Duration
}

// ToolRunner executes external tools on behalf of stages. Invoke returns an
// error only for invalid invocations (empty command); a non-zero exit, a
// timeout or a spawn failure is reported through the invocation status
// instead.
type ToolRunner interface {
	Invoke(ctx context.Context, inv Invocation) (*domain.ToolInvocation, error)
}

// MetricsCollector records orchestration metrics.
type MetricsCollector interface {
	RecordRunSubmitted(outcome string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordStageExecuted(phase, status string, duration time.Duration)
	RecordToolInvocation(tool, status string, duration time.Duration)
	ObserveQueueWait(duration time.Duration)
	SetActiveRuns(count int)
	SetInflightStages(count int)
}
