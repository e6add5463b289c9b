// Package stage defines the single-method capability behind every step of a
// pipeline: generate, judge, plan, implement and review.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tfvieira/tic43/internal/async"
	"github.com/tfvieira/tic43/internal/logging"
)

// Stage maps an input text to an output text. Implementations must be safe
// for concurrent use.
type Stage interface {
	Run(ctx context.Context, input string) (string, error)
}

// Func adapts a plain function to Stage.
type Func func(ctx context.Context, input string) (string, error)

// Run calls f.
func (f Func) Run(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// Capability names the role a stage plays.
type Capability string

const (
	Generator   Capability = "generator"
	Judge       Capability = "judge"
	Planner     Capability = "planner"
	Implementer Capability = "implementer"
	Reviewer    Capability = "reviewer"
)

// Capabilities lists every capability in pipeline order.
func Capabilities() []Capability {
	return []Capability{Generator, Judge, Planner, Implementer, Reviewer}
}

// ErrStage matches every failed stage invocation.
var ErrStage = errors.New("stage failed")

// Error is a failed stage invocation.
type Error struct {
	Capability Capability
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Capability, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStage }

// Wrap tags err with the capability that produced it. Errors that already
// carry a capability are returned unchanged.
func Wrap(capability Capability, err error) error {
	if err == nil {
		return nil
	}
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return err
	}
	return &Error{Capability: capability, Err: err}
}

var panicLogger = logging.NewComponentLogger("stage")

// Invoke runs s and wraps any failure, including a panic, as a stage error.
func Invoke(ctx context.Context, capability Capability, s Stage, input string) (string, error) {
	var out string
	err := async.Guard(panicLogger, string(capability), func() error {
		var runErr error
		out, runErr = s.Run(ctx, input)
		return runErr
	})
	if err != nil {
		return "", Wrap(capability, err)
	}
	return out, nil
}
