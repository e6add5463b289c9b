// Package refiner runs a plan → implement → review loop until the reviewer
// approves, the attempt budget runs out, or the review cannot be parsed.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/stage"
	"github.com/tfvieira/tic43/internal/verdict"
)

// DefaultMaxAttempts is the attempt cap used when none is configured.
const DefaultMaxAttempts = 3

// State is a step of the refinement state machine.
type State string

const (
	StatePlanning     State = "planning"
	StateImplementing State = "implementing"
	StateReviewing    State = "reviewing"
	// StateRetry is entered after a change verdict while attempts remain.
	StateRetry State = "retry"
	// StateApproved and StateAborted are terminal.
	StateApproved State = "approved"
	StateAborted  State = "aborted"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateAborted
}

// Status explains why a refinement ended.
type Status string

const (
	StatusApproved            Status = "approved"
	StatusMaxAttemptsExceeded Status = "max attempts exceeded"
	StatusMalformedVerdict    Status = "malformed verdict"
	StatusStageFailed         Status = "stage failed"
	StatusCanceled            Status = "canceled"
)

// ErrInvalidAttempts rejects an attempt cap below one.
var ErrInvalidAttempts = errors.New("max attempts must be at least 1")

// Result is the terminal outcome of one Refine call.
type Result struct {
	State    State           `json:"state"`
	Status   Status          `json:"status"`
	Output   string          `json:"output,omitempty"`
	Plan     string          `json:"plan,omitempty"`
	Attempts int             `json:"attempts"`
	Verdict  *verdict.Review `json:"verdict,omitempty"`
	// Raw holds the unparsed reviewer output when the verdict was malformed.
	Raw      string `json:"raw,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	// Detail carries the parse or stage error text, if any.
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Approved reports whether the reviewer accepted the output.
func (r *Result) Approved() bool {
	return r != nil && r.Status == StatusApproved
}

// EventType enumerates the notifications sent to an Observer.
type EventType string

const (
	EventPlan           EventType = "plan"
	EventImplementation EventType = "implementation"
	EventReview         EventType = "review"
	EventFinished       EventType = "finished"
)

// Event is one refinement notification. Content is the stage output for
// plan and implementation events and the raw review for review events.
type Event struct {
	Type      EventType       `json:"type"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
	Content   string          `json:"content,omitempty"`
	Verdict   *verdict.Review `json:"verdict,omitempty"`
	Err       error           `json:"-"`
	Result    *Result         `json:"result,omitempty"`
}

// Observer receives refinement events on the refining goroutine.
type Observer interface {
	OnRefineEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnRefineEvent calls f.
func (f ObserverFunc) OnRefineEvent(e Event) { f(e) }

// PlanInput is the planner input for an attempt. Feedback is empty on the
// first attempt.
func PlanInput(task, feedback string) string {
	if feedback == "" {
		return task
	}
	return task + "\n\n" + feedback
}

// ReviewInput is the text handed to the reviewer.
func ReviewInput(query, code string) string {
	return "Query: " + query + "\nCode: " + code
}

// Refiner drives planner, implementer and reviewer stages sequentially.
type Refiner struct {
	planner     stage.Stage
	implementer stage.Stage
	reviewer    stage.Stage

	observers []Observer
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	tracer    *observability.TracerProvider
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(r *Refiner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Refiner) { r.logger = l }
}

// WithMetrics records one run sample per Refine call.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(r *Refiner) { r.metrics = m }
}

// WithTracer emits a span per run and per attempt.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(r *Refiner) { r.tracer = tp }
}

// New builds a refiner over the three stages.
func New(planner, implementer, reviewer stage.Stage, opts ...Option) *Refiner {
	r := &Refiner{planner: planner, implementer: implementer, reviewer: reviewer}
	for _, opt := range opts {
		opt(r)
	}
	if logging.IsNil(r.logger) {
		r.logger = logging.NewComponentLogger("refiner")
	}
	return r
}

// Refine runs at most maxAttempts plan → implement → review attempts.
//
// A change verdict replaces the feedback with the latest suggestions and
// starts another attempt. Exhaustion and a malformed verdict end the run
// with a nil error; a stage failure or cancellation returns the error
// alongside the aborted result. Cancellation is checked between stages.
func (r *Refiner) Refine(ctx context.Context, task string, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAttempts, maxAttempts)
	}

	ctx, span := r.tracer.StartSpan(ctx, observability.SpanRefineRun)
	defer span.End()

	start := time.Now()
	result := &Result{State: StatePlanning}
	err := r.run(ctx, task, maxAttempts, result)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Int(observability.AttrAttempt, result.Attempts))
	span.SetAttributes(observability.StatusAttrs(string(result.Status))...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.RecordRefinement(ctx, string(result.Status), result.Attempts)
	r.logger.Info("refinement %s after %d attempt(s) in %v", result.Status, result.Attempts, result.Duration.Round(time.Millisecond))

	r.emit(Event{Type: EventFinished, Attempt: result.Attempts, Result: result, Err: err})
	return result, err
}

func (r *Refiner) run(ctx context.Context, task string, maxAttempts int, result *Result) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		query := PlanInput(task, result.Feedback)

		attemptCtx, span := r.tracer.StartSpan(ctx, observability.SpanRefineAttempt, attribute.Int(observability.AttrAttempt, attempt))
		review, raw, err := r.attempt(attemptCtx, attempt, query, result)
		span.End()

		switch {
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil:
			r.abort(result, StatusCanceled, err)
			return ctx.Err()
		case err != nil && errors.Is(err, verdict.ErrMalformed):
			result.Raw = raw
			r.abort(result, StatusMalformedVerdict, err)
			r.logger.Warn("attempt %d: %v", attempt, err)
			return nil
		case err != nil:
			r.abort(result, StatusStageFailed, err)
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}

		result.Verdict = &review
		if review.Approved() {
			result.State = StateApproved
			result.Status = StatusApproved
			return nil
		}

		result.Feedback = review.Suggestions
		if attempt < maxAttempts {
			result.State = StateRetry
			r.logger.Debug("attempt %d: reviewer requested changes", attempt)
			if err := ctx.Err(); err != nil {
				r.abort(result, StatusCanceled, err)
				return err
			}
		}
	}

	result.State = StateAborted
	result.Status = StatusMaxAttemptsExceeded
	return nil
}

// attempt runs one plan → implement → review pass, recording outputs on
// result as they arrive. raw is the reviewer output.
func (r *Refiner) attempt(ctx context.Context, attempt int, query string, result *Result) (verdict.Review, string, error) {
	if err := ctx.Err(); err != nil {
		return verdict.Review{}, "", err
	}
	result.State = StatePlanning
	plan, err := stage.Invoke(ctx, stage.Planner, r.planner, query)
	if err != nil {
		return verdict.Review{}, "", err
	}
	result.Plan = plan
	r.emit(Event{Type: EventPlan, Attempt: attempt, Content: plan})

	if err := ctx.Err(); err != nil {
		return verdict.Review{}, "", err
	}
	result.State = StateImplementing
	code, err := stage.Invoke(ctx, stage.Implementer, r.implementer, plan)
	if err != nil {
		return verdict.Review{}, "", err
	}
	result.Output = code
	r.emit(Event{Type: EventImplementation, Attempt: attempt, Content: code})

	if err := ctx.Err(); err != nil {
		return verdict.Review{}, "", err
	}
	result.State = StateReviewing
	raw, err := stage.Invoke(ctx, stage.Reviewer, r.reviewer, ReviewInput(query, code))
	if err != nil {
		return verdict.Review{}, "", err
	}

	review, err := verdict.ParseReview(raw)
	if err != nil {
		r.emit(Event{Type: EventReview, Attempt: attempt, Content: raw, Err: err})
		return verdict.Review{}, raw, err
	}
	r.emit(Event{Type: EventReview, Attempt: attempt, Content: raw, Verdict: &review})
	return review, raw, nil
}

func (r *Refiner) abort(result *Result, status Status, err error) {
	result.State = StateAborted
	result.Status = status
	if err != nil {
		result.Detail = err.Error()
	}
}

func (r *Refiner) emit(event Event) {
	if len(r.observers) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, o := range r.observers {
		o.OnRefineEvent(event)
	}
}
