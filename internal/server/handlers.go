package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/async"
	"github.com/tfvieira/tic43/internal/dataset"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/refiner"
)

// maxInlineItems bounds a single POST /api/evaluations request.
const maxInlineItems = 10000

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Components: map[string]bool{
			"evaluator": s.deps.Evaluator != nil,
			"refiner":   s.deps.Refiner != nil,
			"sink":      s.deps.Sink != nil,
			"results":   s.deps.Results != nil,
			"metrics":   s.deps.Metrics.Enabled(),
		},
	})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	if s.deps.Evaluator == nil {
		respondError(c, http.StatusServiceUnavailable, "evaluator is not configured")
		return
	}

	var req EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Items) > maxInlineItems {
		respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d items per request", maxInlineItems))
		return
	}
	if req.Dataset != "" {
		if err := dataset.ValidateName(req.Dataset); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if s.deps.Sink == nil {
			respondError(c, http.StatusServiceUnavailable, "no result sink is configured")
			return
		}
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.config.Workers
	}

	ctx := observability.ContextWithRunID(c.Request.Context(), uuid.NewString())
	if req.Dataset != "" {
		ctx = observability.ContextWithDataset(ctx, req.Dataset)
	}

	records := s.deps.Evaluator.Evaluate(ctx, req.Items, workers)
	resp := EvaluationResponse{Records: records, Summary: answer_eval.Summarize(records)}

	if req.Dataset != "" {
		if err := s.deps.Sink.Write(ctx, req.Dataset, answer_eval.ToRows(records)); err != nil {
			s.logger.Error("persist %s: %v", req.Dataset, err)
			respondError(c, http.StatusInternalServerError, fmt.Sprintf("persist dataset %q: %v", req.Dataset, err))
			return
		}
		resp.Dataset = req.Dataset
	}

	c.JSON(http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleDatasetResults(c *gin.Context) {
	if s.deps.Results == nil {
		respondError(c, http.StatusServiceUnavailable, "no result store is configured")
		return
	}
	name := c.Param("name")
	if err := dataset.ValidateName(name); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.deps.Results.Rows(c.Request.Context(), name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		respondError(c, http.StatusNotFound, fmt.Sprintf("no results stored for %q", name))
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: DatasetResultsResponse{Dataset: name, Rows: rows}})
}

func (s *Server) handleCreateRefinement(c *gin.Context) {
	if s.deps.Refiner == nil {
		respondError(c, http.StatusServiceUnavailable, "refiner is not configured")
		return
	}

	var req RefinementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		respondError(c, http.StatusBadRequest, "task is required")
		return
	}
	if req.MaxAttempts < 0 {
		respondError(c, http.StatusBadRequest, refiner.ErrInvalidAttempts.Error())
		return
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.config.MaxAttempts
	}

	now := time.Now()
	status := &RefinementStatus{
		ID:        uuid.NewString(),
		Task:      req.Task,
		Running:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.results.Add(status.ID, status)

	if req.Wait {
		final := s.refine(observability.ContextWithRunID(c.Request.Context(), status.ID), *status, maxAttempts)
		c.JSON(http.StatusOK, APIResponse{Success: final.Error == "", Data: final})
		return
	}

	s.wg.Add(1)
	async.Go(s.logger, "refinement-"+status.ID, func() {
		defer s.wg.Done()
		s.refine(observability.ContextWithRunID(s.baseCtx, status.ID), *status, maxAttempts)
	})
	c.JSON(http.StatusAccepted, APIResponse{Success: true, Data: status})
}

// refine runs one refinement and stores a fresh snapshot of the outcome.
// Snapshots are never mutated after they are cached.
func (s *Server) refine(ctx context.Context, status RefinementStatus, maxAttempts int) *RefinementStatus {
	result, err := s.deps.Refiner.Refine(ctx, status.Task, maxAttempts)

	final := status
	final.Running = false
	final.Result = result
	final.UpdatedAt = time.Now()
	if err != nil {
		final.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("refinement %s: %v", status.ID, err)
		}
	}
	s.results.Add(final.ID, &final)
	return &final
}

func (s *Server) handleGetRefinement(c *gin.Context) {
	status, ok := s.results.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "refinement not found")
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: status})
}

func respondError(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, APIResponse{Error: msg})
}
