package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tfvieira/tic43/internal/llm"
	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/tokenutil"
)

// LLMStage runs one chat completion per invocation: the system prompt
// followed by the input as the user turn. It keeps no per-call state.
type LLMStage struct {
	capability   Capability
	client       llm.Client
	systemPrompt string
	temperature  float64
	timeout      time.Duration

	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

// LLMOption configures an LLMStage.
type LLMOption func(*LLMStage)

// WithTimeout bounds every invocation. Zero disables the deadline.
func WithTimeout(d time.Duration) LLMOption {
	return func(s *LLMStage) { s.timeout = d }
}

// WithTemperature sets the sampling temperature sent to the model.
func WithTemperature(t float64) LLMOption {
	return func(s *LLMStage) { s.temperature = t }
}

// WithMetrics records call, latency and token metrics.
func WithMetrics(m *observability.MetricsCollector) LLMOption {
	return func(s *LLMStage) { s.metrics = m }
}

// WithTracer emits one span per invocation.
func WithTracer(tp *observability.TracerProvider) LLMOption {
	return func(s *LLMStage) { s.tracer = tp }
}

// WithLogger overrides the component logger.
func WithLogger(l logging.Logger) LLMOption {
	return func(s *LLMStage) { s.logger = l }
}

// NewLLMStage builds a stage for capability over client.
func NewLLMStage(capability Capability, client llm.Client, systemPrompt string, opts ...LLMOption) *LLMStage {
	s := &LLMStage{
		capability:   capability,
		client:       client,
		systemPrompt: systemPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewComponentLogger("stage-" + string(capability))
	}
	return s
}

// Capability returns the role this stage plays.
func (s *LLMStage) Capability() Capability {
	return s.capability
}

// Run sends input to the model and returns the assistant content.
func (s *LLMStage) Run(ctx context.Context, input string) (string, error) {
	model := s.client.Model()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanStageInvoke, observability.StageAttrs(string(s.capability), model)...)
	defer span.End()

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := make([]llm.Message, 0, 2)
	if s.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: s.systemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: input})

	start := time.Now()
	resp, err := s.client.Complete(callCtx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: s.temperature,
	})
	latency := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %v: %w", s.timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordStageCall(ctx, string(s.capability), model, "error", latency, 0, 0)
		s.logger.Debug("%s call failed after %v: %v", s.capability, latency.Round(time.Millisecond), err)
		return "", Wrap(s.capability, err)
	}

	if s.metrics.Enabled() {
		inTokens, outTokens := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		if inTokens == 0 {
			inTokens = tokenutil.CountTokens(s.systemPrompt) + tokenutil.CountTokens(input)
		}
		if outTokens == 0 {
			outTokens = tokenutil.CountTokens(resp.Content)
		}
		s.metrics.RecordStageCall(ctx, string(s.capability), model, "success", latency, inTokens, outTokens)
		span.SetAttributes(
			attribute.Int(observability.AttrInputTokens, inTokens),
			attribute.Int(observability.AttrOutputTokens, outTokens),
		)
	}
	span.SetStatus(codes.Ok, "")

	return resp.Content, nil
}
