package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// RunSubmitRequest represents a run submission request. The manifest is
// the pipeline YAML; trigger seeds name server-local files.
type RunSubmitRequest struct {
	Manifest    string         `json:"manifest" binding:"required"`
	Trigger     domain.Trigger `json:"trigger"`
	Concurrency int            `json:"concurrency"`
}

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// RunSummary is the compact run representation used in listings.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	Pipeline    string     `json:"pipeline"`
	Status      string     `json:"status"`
	Branch      string     `json:"branch,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"active_runs": s.orchestrator.ActiveRuns(),
		"checks": gin.H{
			"orchestrator": "ok",
		},
	})
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req RunSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	pipeline, err := spec.Parse([]byte(req.Manifest))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_MANIFEST",
				Message: err.Error(),
			},
		})
		return
	}

	runID, err := s.orchestrator.SubmitRun(c.Request.Context(), pipeline, req.Trigger, req.Concurrency)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SUBMISSION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      string(domain.RunStatusPending),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListRuns handles listing runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to retrieve runs",
				Details: err.Error(),
			},
		})
		return
	}

	summaries := make([]RunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = RunSummary{
			RunID:       run.RunID,
			Pipeline:    run.Pipeline,
			Status:      string(run.Status),
			Branch:      run.Trigger.Branch,
			Tag:         run.Trigger.Tag,
			SubmittedAt: run.SubmittedAt,
			CompletedAt: run.CompletedAt,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  summaries,
		"total": len(summaries),
	})
}

// handleGetRun handles getting full run details
func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleGetStatus handles getting a compact run status
func (s *Server) handleGetStatus(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}

	counts := map[string]int{}
	for _, st := range run.Stages {
		counts[string(st.Status)]++
	}

	resp := gin.H{
		"run_id":       run.RunID,
		"pipeline":     run.Pipeline,
		"status":       run.Status,
		"error":        run.Error,
		"stages":       counts,
		"submitted_at": run.SubmittedAt,
		"started_at":   run.StartedAt,
		"completed_at": run.CompletedAt,
	}
	if failed := run.StageByStatus(domain.StageStatusFailed); len(failed) > 0 {
		resp["failed_stages"] = failed
	}

	c.JSON(http.StatusOK, resp)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "Run not found",
				},
			})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": "cancelling",
	})
}

// handleDeleteRun handles deleting a finished run
func (s *Server) handleDeleteRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.DeleteRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "Run not found",
				},
			})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "DELETE_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleListArtifacts handles listing the artifacts of a run
func (s *Server) handleListArtifacts(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}

	artifacts, err := s.artifacts.List(c.Request.Context(), run.RunID)
	if err != nil {
		s.logger.Error("failed to list artifacts",
			zap.String("run_id", run.RunID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to retrieve artifacts",
				Details: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":    run.RunID,
		"artifacts": artifacts,
		"total":     len(artifacts),
	})
}

// handleDownloadArtifact streams one artifact payload
func (s *Server) handleDownloadArtifact(c *gin.Context) {
	runID := c.Param("id")
	name := c.Param("name")

	rc, art, err := s.artifacts.Open(c.Request.Context(), runID, name)
	if err != nil {
		if errors.Is(err, ports.ErrArtifactNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "ARTIFACT_NOT_FOUND",
					Message: "Artifact not found",
				},
			})
			return
		}
		s.logger.Error("failed to open artifact",
			zap.String("run_id", runID),
			zap.String("artifact", name),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to open artifact",
				Details: err.Error(),
			},
		})
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, art.Size, "application/octet-stream", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", art.Name),
		"X-Artifact-Digest":   art.Digest,
	})
}

// loadRun fetches the run named by the :id param, answering 404 or 500
// itself when it cannot.
func (s *Server) loadRun(c *gin.Context) (*domain.PipelineRun, bool) {
	runID := c.Param("id")

	run, err := s.orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "Run not found",
				},
			})
			return nil, false
		}
		s.logger.Error("failed to get run",
			zap.String("run_id", runID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to retrieve run",
				Details: err.Error(),
			},
		})
		return nil, false
	}
	return run, true
}
