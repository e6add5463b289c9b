package stage

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfvieira/tic43/internal/async"
	"github.com/tfvieira/tic43/internal/llm"
	"github.com/tfvieira/tic43/internal/observability"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	reply    string
	err      error
	delay    time.Duration
}

func (c *fakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &llm.CompletionResponse{
		Content: c.reply,
		Usage:   llm.TokenUsage{PromptTokens: 11, CompletionTokens: 3, TotalTokens: 14},
	}, nil
}

func (c *fakeClient) Model() string { return "fake-model" }

func TestFuncAdapter(t *testing.T) {
	var s Stage = Func(func(_ context.Context, in string) (string, error) { return "echo:" + in, nil })
	out, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", out)
}

func TestWrapKeepsFirstCapability(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(Judge, Wrap(Generator, base))

	var stageErr *Error
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, Generator, stageErr.Capability)
	assert.ErrorIs(t, err, ErrStage)
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Wrap(Judge, nil))
}

func TestInvokeConvertsPanics(t *testing.T) {
	panicky := Func(func(context.Context, string) (string, error) { panic("kaboom") })

	_, err := Invoke(context.Background(), Planner, panicky, "task")
	require.ErrorIs(t, err, ErrStage)

	var panicErr *async.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestLLMStageSendsSystemAndUserTurns(t *testing.T) {
	client := &fakeClient{reply: "42"}
	s := NewLLMStage(Generator, client, "answer briefly", WithTemperature(0.2))

	out, err := s.Run(context.Background(), "What is 6x7?")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
	assert.Equal(t, Generator, s.Capability())

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, []llm.Message{
		{Role: "system", Content: "answer briefly"},
		{Role: "user", Content: "What is 6x7?"},
	}, req.Messages)
	assert.Equal(t, 0.2, req.Temperature)
}

func TestLLMStageWrapsClientErrors(t *testing.T) {
	s := NewLLMStage(Judge, &fakeClient{err: errors.New("status 500: upstream")}, "")

	_, err := s.Run(context.Background(), "x")
	require.ErrorIs(t, err, ErrStage)

	var stageErr *Error
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, Judge, stageErr.Capability)
}

func TestLLMStageTimeout(t *testing.T) {
	s := NewLLMStage(Reviewer, &fakeClient{delay: time.Second}, "", WithTimeout(10*time.Millisecond))

	_, err := s.Run(context.Background(), "x")
	require.ErrorIs(t, err, ErrStage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after")
}

func TestLLMStageRecordsMetrics(t *testing.T) {
	reg := promclient.NewRegistry()
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: true, Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.Shutdown(context.Background()) })

	s := NewLLMStage(Implementer, &fakeClient{reply: "code"}, "write code",
		WithMetrics(metrics), WithTracer(observability.NoopTracer()))
	_, err = s.Run(context.Background(), "plan")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `capability="implementer"`)
}
