// Package answer_eval runs question/expected-answer pairs through a
// generate → judge pipeline under a bounded worker pool.
package answer_eval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/stage"
	"github.com/tfvieira/tic43/internal/verdict"
)

const (
	// DefaultWorkers is the worker budget used when none is configured.
	DefaultWorkers = 3
	// MaxWorkers caps the worker budget.
	MaxWorkers = 64
)

// Item is one (question, expected answer) pair.
type Item struct {
	Question string `json:"question"`
	Expected string `json:"expected_output"`
}

// Record is the outcome of one Item.
type Record struct {
	Question         string         `json:"question"`
	ObtainedAnswer   string         `json:"obtained_answer"`
	ExpectedAnswer   string         `json:"expected_answer"`
	SimilarityRating verdict.Rating `json:"similarity_rating"`
	SimilarityScore  int            `json:"similarity_score"`
	Justification    string         `json:"justification"`
}

// Degraded reports whether the record stands in for a failed item.
func (r Record) Degraded() bool {
	return r.SimilarityRating == verdict.RatingError
}

// JudgeInput is the text handed to the judge stage.
func JudgeInput(obtained, expected string) string {
	return "Obtained Answer: " + obtained + "\nExpected Answer: " + expected
}

func degradedRecord(item Item, obtained string, err error) Record {
	return Record{
		Question:         item.Question,
		ObtainedAnswer:   obtained,
		ExpectedAnswer:   item.Expected,
		SimilarityRating: verdict.RatingError,
		SimilarityScore:  0,
		Justification:    fmt.Sprintf("Error processing question: %v", err),
	}
}

// Evaluator fans items out over a generator and a judge stage.
type Evaluator struct {
	generator stage.Stage
	judge     stage.Stage

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger overrides the component logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMetrics records one counter sample per record.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithTracer emits one span per item.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(e *Evaluator) { e.tracer = tp }
}

// New builds an evaluator. Both stages must be safe for concurrent use.
func New(generator, judge stage.Stage, opts ...Option) *Evaluator {
	e := &Evaluator{generator: generator, judge: judge}
	for _, opt := range opts {
		opt(e)
	}
	if logging.IsNil(e.logger) {
		e.logger = logging.NewComponentLogger("answer-eval")
	}
	return e
}

func clampWorkerCount(workers int) int {
	if workers <= 0 {
		return 1
	}
	if workers > MaxWorkers {
		return MaxWorkers
	}
	return workers
}

// Evaluate returns exactly one record per item, record i for item i. A
// failure in any stage, or in parsing the judge's verdict, degrades only
// that item's record. Items not started before ctx is done are degraded
// with ctx's error.
func (e *Evaluator) Evaluate(ctx context.Context, items []Item, workers int) []Record {
	records := make([]Record, len(items))
	if len(items) == 0 {
		return records
	}

	if budget := clampWorkerCount(workers); budget != workers {
		e.logger.Warn("worker budget %d out of range [1, %d]; using %d", workers, MaxWorkers, budget)
		workers = budget
	}
	e.logger.Debug("evaluating %d items with %d workers", len(items), workers)

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				records[i] = degradedRecord(item, "", err)
			} else {
				records[i] = e.evaluateItem(ctx, i, item)
			}
			e.metrics.RecordEvalRecord(ctx, observability.DatasetFromContext(ctx), string(records[i].SimilarityRating))
			return nil
		})
	}
	_ = g.Wait()

	return records
}

func (e *Evaluator) evaluateItem(ctx context.Context, index int, item Item) Record {
	ctx, span := e.tracer.StartSpan(ctx, observability.SpanEvalItem, attribute.Int(observability.AttrItemIndex, index))
	defer span.End()

	answer, err := stage.Invoke(ctx, stage.Generator, e.generator, item.Question)
	if err != nil {
		e.logger.Warn("item %d: %v", index, err)
		span.RecordError(err)
		return degradedRecord(item, "", err)
	}

	judged, err := stage.Invoke(ctx, stage.Judge, e.judge, JudgeInput(answer, item.Expected))
	if err != nil {
		e.logger.Warn("item %d: %v", index, err)
		span.RecordError(err)
		return degradedRecord(item, answer, err)
	}

	sim, err := verdict.ParseSimilarity(judged)
	if err != nil {
		e.logger.Warn("item %d: %v", index, err)
		span.RecordError(err)
		return degradedRecord(item, answer, err)
	}

	span.SetAttributes(attribute.String(observability.AttrRating, string(sim.Rating)))
	return Record{
		Question:         item.Question,
		ObtainedAnswer:   answer,
		ExpectedAnswer:   item.Expected,
		SimilarityRating: sim.Rating,
		SimilarityScore:  sim.Score,
		Justification:    sim.Justification,
	}
}
