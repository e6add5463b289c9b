package verdict

import (
	"errors"
	"fmt"
)

// ErrMalformed matches every parse failure of a judging stage's output.
var ErrMalformed = errors.New("malformed verdict")

// ParseError reports output that is not a JSON object, even after repair.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed verdict: not a JSON object: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrMalformed }

// FieldError reports a missing, mistyped or out-of-range field.
type FieldError struct {
	Field  string
	Reason string
	Value  string
}

func (e *FieldError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("malformed verdict: field %q %s (got %q)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("malformed verdict: field %q %s", e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool { return target == ErrMalformed }
