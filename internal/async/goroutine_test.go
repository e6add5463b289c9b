package async

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

func TestGuardConvertsPanicToError(t *testing.T) {
	logger := &recordingLogger{}

	err := Guard(logger, "item-3", func() error {
		panic("boom")
	})

	var panicErr *PanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "item-3", panicErr.Name)
	assert.Equal(t, "boom", panicErr.Value)
	assert.Contains(t, err.Error(), "panic in item-3: boom")
	assert.Equal(t, 1, logger.count())
}

func TestGuardPassesThroughErrors(t *testing.T) {
	want := errors.New("plain failure")
	err := Guard(nil, "", func() error { return want })
	assert.ErrorIs(t, err, want)

	assert.NoError(t, Guard(nil, "", func() error { return nil }))
}

func TestGoRecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	Go(logger, "worker", func() {
		defer close(done)
		panic("worker failed")
	})
	<-done

	assert.Eventually(t, func() bool { return logger.count() == 1 }, time.Second, 5*time.Millisecond)
}
