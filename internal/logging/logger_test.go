package logging

import (
	"bytes"
	"testing"

	"github.com/tfvieira/tic43/internal/observability"
)

type pointerLogger struct{ nopLogger }

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var typed *pointerLogger
	var logger Logger = typed
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservabilityWithComponent(base, "test")
	logger.Info("hello %s", "world")

	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
	if want := "component=test"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestConfigureRoutesComponentLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(observability.NewLogger(observability.LogConfig{Level: "debug", Output: buf}))
	t.Cleanup(func() { Configure(nil) })

	NewComponentLogger("refiner").Debug("attempt %d", 2)

	if want := "attempt 2"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}
