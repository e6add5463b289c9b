package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("upstream returned %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{"nil", nil, false, false},
		{"explicit transient", NewTransientError(stderrors.New("x"), "retry"), true, false},
		{"explicit permanent", NewPermanentError(stderrors.New("x"), "stop"), false, true},
		{"status coder 429", statusErr(429), true, false},
		{"status coder 401", statusErr(401), false, true},
		{"status in message", stderrors.New("API error 503: overloaded"), true, false},
		{"bad request in message", stderrors.New("status 400: bad request"), false, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true, false},
		{"plain", stderrors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeDegraded, GetErrorType(NewDegradedError(stderrors.New("open"), "")))
	assert.Equal(t, ErrorTypeTransient, GetErrorType(statusErr(502)))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(stderrors.New("boom")))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithResultRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", statusErr(503)
		}
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryWithResultStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr(401)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResultExhausts(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, statusErr(500)
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, calls)
}

func TestRetryWithResultHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithResult(ctx, fastRetry(), func(context.Context) (int, error) {
		t.Fatal("fn must not run after cancellation")
		return 0, nil
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, JitterFactor: 0.25}
	for attempt := 0; attempt < 6; attempt++ {
		d := calculateBackoff(attempt, cfg)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, cfg.MaxDelay)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	cb.now = func() time.Time { return now }

	fail := func(context.Context) (string, error) { return "", stderrors.New("down") }
	ok := func(context.Context) (string, error) { return "up", nil }
	ctx := context.Background()

	_, _ = ExecuteFunc(cb, ctx, fail)
	_, _ = ExecuteFunc(cb, ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(20 * time.Second)
	_, err := ExecuteFunc(cb, ctx, ok)
	require.Error(t, err)
	assert.True(t, IsDegraded(err))
	assert.Contains(t, err.Error(), "retry in 40s")

	now = now.Add(2 * time.Minute)
	got, err := ExecuteFunc(cb, ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "up", got)
	assert.Equal(t, StateClosed, cb.State())

	_, _ = ExecuteFunc(cb, ctx, fail)
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestNilCircuitBreakerPassesThrough(t *testing.T) {
	got, err := ExecuteFunc(nil, context.Background(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
