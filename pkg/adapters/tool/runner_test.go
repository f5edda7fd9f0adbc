package tool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	inv, err := r.Invoke(context.Background(), ports.Invocation{
		StageID: "echo",
		Command: []string{"sh", "-c", "echo out; echo err 1>&2"},
		Workdir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationCompleted, inv.Status)
	require.Equal(t, 0, inv.ExitCode)
	require.Equal(t, "out\n", string(inv.Stdout))
	require.Equal(t, "err\n", string(inv.Stderr))
	require.Empty(t, inv.Error)
}

func TestExecRunnerReportsNonZeroExitAsValue(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	inv, err := r.Invoke(context.Background(), ports.Invocation{
		StageID: "fail",
		Command: []string{"sh", "-c", "echo broken 1>&2; exit 3"},
		Workdir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationFailed, inv.Status)
	require.Equal(t, 3, inv.ExitCode)
	require.Equal(t, "broken\n", string(inv.Stderr))
}

func TestExecRunnerKillsAtTimeout(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	start := time.Now()
	inv, err := r.Invoke(context.Background(), ports.Invocation{
		StageID: "slow",
		Command: []string{"sh", "-c", "sleep 10"},
		Workdir: t.TempDir(),
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationTimedOut, inv.Status)
	require.Contains(t, inv.Error, "timed out")
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunnerReportsUnstartableBinary(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	inv, err := r.Invoke(context.Background(), ports.Invocation{
		StageID: "missing",
		Command: []string{"/does/not/exist/tool"},
		Workdir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationError, inv.Status)
	require.Equal(t, -1, inv.ExitCode)
	require.NotEmpty(t, inv.Error)
}

func TestExecRunnerAppliesEnvAndWorkdir(t *testing.T) {
	r := NewExecRunner(zap.NewNop())
	workdir := t.TempDir()

	inv, err := r.Invoke(context.Background(), ports.Invocation{
		StageID: "env",
		Command: []string{"sh", "-c", `printf '%s' "$STAGE_TOKEN" > marker.txt`},
		Env:     map[string]string{"STAGE_TOKEN": "s3cret"},
		Workdir: workdir,
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationCompleted, inv.Status)

	data, err := os.ReadFile(filepath.Join(workdir, "marker.txt"))
	require.NoError(t, err)
	require.Equal(t, "s3cret", string(data))
}

func TestExecRunnerRejectsEmptyCommand(t *testing.T) {
	r := NewExecRunner(zap.NewNop())

	_, err := r.Invoke(context.Background(), ports.Invocation{StageID: "empty"})
	require.Error(t, err)
}

func TestMockRunnerDefaultsToSuccess(t *testing.T) {
	m := NewMockRunner()

	inv, err := m.Invoke(context.Background(), ports.Invocation{StageID: "any"})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationCompleted, inv.Status)
	require.Equal(t, 0, inv.ExitCode)
	require.Equal(t, 1, m.Calls("any"))
	require.Equal(t, []string{"any"}, m.CallOrder())
}

func TestMockRunnerReplaysScript(t *testing.T) {
	workdir := t.TempDir()
	m := NewMockRunner()
	m.Script["scan"] = MockResult{
		ExitCode: 2,
		Stderr:   "vulnerabilities found",
		Files:    map[string]string{"report/findings.json": `{"high":3}`},
	}

	inv, err := m.Invoke(context.Background(), ports.Invocation{
		StageID: "scan",
		Workdir: workdir,
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationFailed, inv.Status)
	require.Equal(t, 2, inv.ExitCode)
	require.Equal(t, "vulnerabilities found", string(inv.Stderr))

	data, err := os.ReadFile(filepath.Join(workdir, "report", "findings.json"))
	require.NoError(t, err)
	require.Equal(t, `{"high":3}`, string(data))
}

func TestMockRunnerHonorsTimeoutDuringDelay(t *testing.T) {
	m := NewMockRunner()
	m.Script["slow"] = MockResult{Delay: time.Second}

	inv, err := m.Invoke(context.Background(), ports.Invocation{
		StageID: "slow",
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, domain.InvocationTimedOut, inv.Status)
}

func TestMockRunnerTracksConcurrency(t *testing.T) {
	m := NewMockRunner()
	for _, id := range []string{"a", "b", "c", "d"} {
		m.Script[id] = MockResult{Delay: 50 * time.Millisecond}
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(stageID string) {
			defer wg.Done()
			_, err := m.Invoke(context.Background(), ports.Invocation{StageID: stageID})
			require.NoError(t, err)
		}(id)
	}
	wg.Wait()

	require.Equal(t, 4, m.TotalCalls())
	require.Equal(t, 4, m.MaxInflight())
}
