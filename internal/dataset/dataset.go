// Package dataset loads (question, expected answer) pairs for the evaluator.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
)

// ErrAccess matches every failure to read a dataset.
var ErrAccess = errors.New("dataset access failed")

// AccessError reports a dataset that could not be located or decoded.
type AccessError struct {
	Name string
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("dataset %q (%s): %v", e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("dataset %q: %v", e.Name, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrAccess }

// Example is one dataset row.
type Example struct {
	Question string `json:"question" yaml:"question"`
	Expected string `json:"expected_output" yaml:"expected_output"`
}

// Source loads a named dataset.
type Source interface {
	Load(ctx context.Context, name string) ([]Example, error)
}

var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects names that could escape the data directory.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("dataset name is required")
	}
	if name != filepath.Base(name) {
		return errors.New("dataset name contains path separators")
	}
	if !safeName.MatchString(name) {
		return errors.New("dataset name contains invalid characters")
	}
	return nil
}
