package llm

import (
	"context"
	"strings"
	"time"

	tic43errors "github.com/tfvieira/tic43/internal/errors"
	"github.com/tfvieira/tic43/internal/logging"
)

// retryClient wraps an LLM client with retry logic and circuit breaker
type retryClient struct {
	underlying     Client
	retryConfig    tic43errors.RetryConfig
	circuitBreaker *tic43errors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps an LLM client with retry and circuit breaker logic.
// A nil breaker disables the circuit.
func NewRetryClient(client Client, retryConfig tic43errors.RetryConfig, circuitBreaker *tic43errors.CircuitBreaker) Client {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	resp, err := tic43errors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		return tic43errors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			response, err := c.underlying.Complete(ctx, req)
			if err != nil {
				return nil, classifyLLMError(err)
			}
			return response, nil
		})
	}, c.logger)

	if err != nil {
		c.logger.Warn("LLM request to %s failed after %v: %v", c.underlying.Model(), time.Since(startTime).Round(time.Millisecond), err)
		return nil, err
	}
	return resp, nil
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

// classifyLLMError marks untyped transport failures as transient or
// permanent. Errors the transport already classified pass through.
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}
	if tic43errors.GetErrorType(err) != tic43errors.ErrorTypePermanent || tic43errors.IsPermanent(err) {
		return err
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "rate limit"):
		return tic43errors.NewTransientError(err, "API rate limit reached")
	case strings.Contains(lowerErr, "timeout"), strings.Contains(lowerErr, "deadline exceeded"):
		return tic43errors.NewTransientError(err, "LLM request timed out")
	case strings.Contains(lowerErr, "eof"):
		return tic43errors.NewTransientError(err, "LLM connection closed early")
	}
	return err
}

// NewClient builds the client for one model, wrapping it with retries and a
// circuit breaker when config.MaxRetries > 0.
func NewClient(model string, config Config) (Client, error) {
	client, err := NewOpenAIClient(model, config)
	if err != nil {
		return nil, err
	}
	if config.MaxRetries <= 0 {
		return client, nil
	}

	retryConfig := tic43errors.DefaultRetryConfig()
	retryConfig.MaxAttempts = config.MaxRetries
	breaker := tic43errors.NewCircuitBreaker("llm:"+model, tic43errors.DefaultCircuitBreakerConfig())
	return NewRetryClient(client, retryConfig, breaker), nil
}
