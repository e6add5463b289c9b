package answer_eval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/tfvieira/tic43/internal/dataset"
	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/sink"
)

// DatasetReport is the outcome of one dataset in a batch.
type DatasetReport struct {
	Name     string        `json:"name"`
	Records  []Record      `json:"records,omitempty"`
	Summary  Summary       `json:"summary"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Error returns the failure message, or "" on success.
func (r DatasetReport) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchReport is the outcome of a Runner.Run call.
type BatchReport struct {
	RunID    string          `json:"run_id"`
	Datasets []DatasetReport `json:"datasets"`
}

// Failed reports whether any dataset failed to load or persist.
func (b BatchReport) Failed() bool {
	for _, d := range b.Datasets {
		if d.Err != nil {
			return true
		}
	}
	return false
}

// Runner evaluates a list of datasets one after another.
type Runner struct {
	evaluator *Evaluator
	source    dataset.Source
	sink      sink.Sink
	workers   int

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the component logger.
func WithRunnerLogger(l logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerMetrics records one sample per dataset outcome.
func WithRunnerMetrics(m *observability.MetricsCollector) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerTracer emits one span per dataset.
func WithRunnerTracer(tp *observability.TracerProvider) RunnerOption {
	return func(r *Runner) { r.tracer = tp }
}

// NewRunner builds a batch runner.
func NewRunner(evaluator *Evaluator, source dataset.Source, out sink.Sink, workers int, opts ...RunnerOption) *Runner {
	r := &Runner{evaluator: evaluator, source: source, sink: out, workers: workers}
	for _, opt := range opts {
		opt(r)
	}
	if logging.IsNil(r.logger) {
		r.logger = logging.NewComponentLogger("answer-eval-runner")
	}
	return r
}

// Run loads, evaluates and persists each dataset in order. A dataset that
// fails to load or persist is recorded in the report and the batch moves on.
func (r *Runner) Run(ctx context.Context, names []string) BatchReport {
	report := BatchReport{RunID: uuid.NewString()}
	ctx = observability.ContextWithRunID(ctx, report.RunID)

	for _, name := range names {
		report.Datasets = append(report.Datasets, r.runDataset(ctx, name))
	}
	return report
}

func (r *Runner) runDataset(ctx context.Context, name string) DatasetReport {
	start := time.Now()
	ctx = observability.ContextWithDataset(ctx, name)
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanEvalDataset)
	defer span.End()

	rep := DatasetReport{Name: name}
	finish := func(err error) DatasetReport {
		rep.Err = err
		rep.Duration = time.Since(start)
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("dataset %s failed: %v", name, err)
		}
		r.metrics.RecordDataset(ctx, name, status)
		return rep
	}

	examples, err := r.source.Load(ctx, name)
	if err != nil {
		return finish(err)
	}

	items := make([]Item, len(examples))
	for i, ex := range examples {
		items[i] = Item{Question: ex.Question, Expected: ex.Expected}
	}

	rep.Records = r.evaluator.Evaluate(ctx, items, r.workers)
	rep.Summary = Summarize(rep.Records)

	if err := r.sink.Write(ctx, name, ToRows(rep.Records)); err != nil {
		return finish(fmt.Errorf("persist dataset %q: %w", name, err))
	}

	r.logger.Info("dataset %s: %d records, %d errors, mean score %.2f",
		name, rep.Summary.Total, rep.Summary.Errors, rep.Summary.MeanScore)
	return finish(nil)
}

// ToRows converts records to the sink layout, keeping their order.
func ToRows(records []Record) []sink.Row {
	rows := make([]sink.Row, len(records))
	for i, rec := range records {
		rows[i] = sink.Row{
			Question:         rec.Question,
			ObtainedAnswer:   rec.ObtainedAnswer,
			ExpectedAnswer:   rec.ExpectedAnswer,
			SimilarityRating: string(rec.SimilarityRating),
			SimilarityScore:  rec.SimilarityScore,
			Justification:    rec.Justification,
		}
	}
	return rows
}
