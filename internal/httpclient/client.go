package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxIdlePerHost matches the evaluator's upper worker bound.
const maxIdlePerHost = 64

// DefaultBodyLimit bounds completion bodies read by the LLM transport.
const DefaultBodyLimit int64 = 8 << 20

// New builds an HTTP client with the given overall timeout.
func New(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = maxIdlePerHost
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// BodyTooLargeError is returned by ReadBody when the body exceeds its limit.
type BodyTooLargeError struct {
	Status int
	Limit  int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("HTTP %d body exceeded %d bytes", e.Status, e.Limit)
}

// ReadBody drains resp.Body, reading at most limit bytes. A limit <= 0
// reads everything.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &BodyTooLargeError{Status: resp.StatusCode, Limit: limit}
	}
	return data, nil
}
