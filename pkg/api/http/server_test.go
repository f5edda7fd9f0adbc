package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/application/executor"
	"github.com/aescanero/phaseline/internal/application/orchestrator"
	artifactmem "github.com/aescanero/phaseline/pkg/adapters/artifacts/memory"
	cachemem "github.com/aescanero/phaseline/pkg/adapters/cache/memory"
	eventmem "github.com/aescanero/phaseline/pkg/adapters/events/memory"
	promadapter "github.com/aescanero/phaseline/pkg/adapters/metrics/prometheus"
	runmem "github.com/aescanero/phaseline/pkg/adapters/storage/memory"
	"github.com/aescanero/phaseline/pkg/adapters/tool"
	"github.com/aescanero/phaseline/pkg/domain"
)

const buildManifest = `
name: api-build
phases:
  - name: build
    stages:
      - id: compile
        run: ["compiler"]
        outputs: [app.bin]
`

const slowManifest = `
name: api-slow
phases:
  - name: build
    stages:
      - id: sleepy
        run: ["sleeper"]
`

func newTestServer(t *testing.T) (*Server, *tool.MockRunner) {
	t.Helper()
	runner := tool.NewMockRunner()
	arts := artifactmem.NewStore()
	runs := runmem.NewRunStore()
	bus := eventmem.NewBus()
	metrics := promadapter.NewCollector(nil)
	logger := zap.NewNop()

	exec := executor.New(runner, arts, cachemem.NewCacheStore(0), runs, bus,
		metrics, logger, executor.Options{
			WorkRoot:         t.TempDir(),
			WatchdogInterval: time.Hour,
		})
	mgr := orchestrator.NewManager(exec, runs, bus, metrics, logger, 30*time.Second, 2)

	s := NewServer(&Config{
		Port:         0,
		Orchestrator: mgr,
		Artifacts:    arts,
		Logger:       logger,
	})
	return s, runner
}

func getJSON(s *Server, path string, out interface{}) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		_ = json.Unmarshal(w.Body.Bytes(), out)
	}
	return w.Code
}

func postJSON(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func submitRun(t *testing.T, s *Server, manifest string, trig domain.Trigger) string {
	t.Helper()
	w := postJSON(t, s, "/api/v1/runs", RunSubmitRequest{Manifest: manifest, Trigger: trig})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp RunSubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	return resp.RunID
}

func waitForStatus(t *testing.T, s *Server, runID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		var status struct {
			Status string `json:"status"`
		}
		if getJSON(s, "/api/v1/runs/"+runID+"/status", &status) != http.StatusOK {
			return false
		}
		return status.Status == want
	}, 5*time.Second, 20*time.Millisecond)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestSubmitAndTrackRun(t *testing.T) {
	s, runner := newTestServer(t)
	runner.Script["compile"] = tool.MockResult{Files: map[string]string{"app.bin": "binary"}}

	runID := submitRun(t, s, buildManifest, domain.Trigger{Branch: "main"})
	waitForStatus(t, s, runID, "success")

	var run domain.PipelineRun
	require.Equal(t, http.StatusOK, getJSON(s, "/api/v1/runs/"+runID, &run))
	require.Equal(t, "api-build", run.Pipeline)
	require.Equal(t, domain.StageStatusSuccess, run.Stages["compile"].Status)

	var list struct {
		Runs  []RunSummary `json:"runs"`
		Total int          `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(s, "/api/v1/runs", &list))
	require.Equal(t, 1, list.Total)
	require.Equal(t, runID, list.Runs[0].RunID)
	require.Equal(t, "main", list.Runs[0].Branch)
}

func TestSubmitRejectsUnparsableManifest(t *testing.T) {
	s, _ := newTestServer(t)

	w := postJSON(t, s, "/api/v1/runs", RunSubmitRequest{Manifest: "phases: [unterminated"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "INVALID_MANIFEST", errorCode(t, w))
}

func TestSubmitRejectsBrokenDependencies(t *testing.T) {
	const dangling = `
name: broken
phases:
  - name: build
    stages:
      - id: compile
        run: ["compiler"]
        inputs: [never-produced]
`
	s, _ := newTestServer(t)

	w := postJSON(t, s, "/api/v1/runs", RunSubmitRequest{Manifest: dangling})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "SUBMISSION_FAILED", errorCode(t, w))
}

func TestSubmitRejectsMissingManifest(t *testing.T) {
	s, _ := newTestServer(t)

	w := postJSON(t, s, "/api/v1/runs", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_REQUEST", errorCode(t, w))
}

func TestStatusNamesFailedStages(t *testing.T) {
	s, runner := newTestServer(t)
	runner.Script["compile"] = tool.MockResult{ExitCode: 1, Stderr: "boom\n"}

	runID := submitRun(t, s, buildManifest, domain.Trigger{})
	waitForStatus(t, s, runID, "failed")

	var status struct {
		FailedStages []string `json:"failed_stages"`
	}
	require.Equal(t, http.StatusOK, getJSON(s, "/api/v1/runs/"+runID+"/status", &status))
	require.Equal(t, []string{"compile"}, status.FailedStages)
}

func TestGetUnknownRunReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/no-such-run", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestCancelRunLifecycle(t *testing.T) {
	s, runner := newTestServer(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}

	runID := submitRun(t, s, slowManifest, domain.Trigger{})
	require.Eventually(t, func() bool {
		return runner.Calls("sleepy") == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := postJSON(t, s, "/api/v1/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	waitForStatus(t, s, runID, "cancelled")

	// Cancelling a settled run conflicts.
	w = postJSON(t, s, "/api/v1/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "CANCELLATION_FAILED", errorCode(t, w))

	w = postJSON(t, s, "/api/v1/runs/no-such-run/cancel", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func doDelete(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestDeleteRunLifecycle(t *testing.T) {
	s, runner := newTestServer(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}

	runID := submitRun(t, s, slowManifest, domain.Trigger{})
	require.Eventually(t, func() bool {
		return runner.Calls("sleepy") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Executing runs must be cancelled before deletion.
	w := doDelete(s, "/api/v1/runs/"+runID)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "DELETE_FAILED", errorCode(t, w))

	w = postJSON(t, s, "/api/v1/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	waitForStatus(t, s, runID, "cancelled")

	w = doDelete(s, "/api/v1/runs/"+runID)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, http.StatusNotFound, getJSON(s, "/api/v1/runs/"+runID, nil))

	w = doDelete(s, "/api/v1/runs/no-such-run")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifactEndpoints(t *testing.T) {
	s, runner := newTestServer(t)
	runner.Script["compile"] = tool.MockResult{
		Stdout: "done\n",
		Files:  map[string]string{"app.bin": "binary-bytes"},
	}

	runID := submitRun(t, s, buildManifest, domain.Trigger{Branch: "main"})
	waitForStatus(t, s, runID, "success")

	var list struct {
		Artifacts []domain.Artifact `json:"artifacts"`
		Total     int               `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(s, "/api/v1/runs/"+runID+"/artifacts", &list))
	require.Equal(t, 3, list.Total)

	names := make(map[string]string)
	for _, a := range list.Artifacts {
		names[a.Name] = a.Stage
	}
	require.Equal(t, "compile", names["app.bin"])
	require.Contains(t, names, "compile.stdout")
	require.Contains(t, names, "compile.stderr")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/artifacts/app.bin", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "binary-bytes", w.Body.String())
	require.Contains(t, w.Header().Get("Content-Disposition"), "app.bin")
	require.NotEmpty(t, w.Header().Get("X-Artifact-Digest"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/artifacts/ghost", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "ARTIFACT_NOT_FOUND", errorCode(t, w))
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	var health struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, getJSON(s, "/health", &health))
	require.Equal(t, "healthy", health.Status)
}

func TestMetricsEndpointServes(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
