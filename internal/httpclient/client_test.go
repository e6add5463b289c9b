package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		want    string
		tooLong bool
	}{
		{name: "within limit", body: "hello", limit: 5, want: "hello"},
		{name: "over limit", body: "hello!", limit: 5, tooLong: true},
		{name: "unbounded", body: "anything at all", limit: 0, want: "anything at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ReadBody(response(http.StatusOK, tt.body), tt.limit)
			if tt.tooLong {
				var tooLarge *BodyTooLargeError
				require.True(t, errors.As(err, &tooLarge))
				assert.Equal(t, tt.limit, tooLarge.Limit)
				assert.Equal(t, http.StatusOK, tooLarge.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestNewSetsTimeout(t *testing.T) {
	client := New(3 * time.Second)
	assert.Equal(t, 3*time.Second, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, maxIdlePerHost, transport.MaxIdleConnsPerHost)
}
