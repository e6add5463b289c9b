package server

import (
	"time"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/refiner"
	"github.com/tfvieira/tic43/internal/sink"
)

// APIResponse is the envelope of every /api response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status     string          `json:"status"`
	Uptime     string          `json:"uptime"`
	Components map[string]bool `json:"components"`
}

// EvaluationRequest submits inline items. When Dataset is set and a sink is
// configured the records are persisted under that name.
type EvaluationRequest struct {
	Items   []answer_eval.Item `json:"items"`
	Workers int                `json:"workers,omitempty"`
	Dataset string             `json:"dataset,omitempty"`
}

// EvaluationResponse carries the ordered records and their summary.
type EvaluationResponse struct {
	Records []answer_eval.Record `json:"records"`
	Summary answer_eval.Summary  `json:"summary"`
	Dataset string               `json:"dataset,omitempty"`
}

// RefinementRequest starts a refinement. With Wait the response carries the
// final result; otherwise the run continues in the background.
type RefinementRequest struct {
	Task        string `json:"task"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Wait        bool   `json:"wait,omitempty"`
}

// RefinementStatus is the cached view of one refinement.
type RefinementStatus struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Running   bool            `json:"running"`
	Result    *refiner.Result `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DatasetResultsResponse lists the persisted rows of a dataset.
type DatasetResultsResponse struct {
	Dataset string     `json:"dataset"`
	Rows    []sink.Row `json:"rows"`
}
