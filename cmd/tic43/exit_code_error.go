package main

import "errors"

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// ExitCodeError wraps an error with a specific process exit code.
//
// Commands return plain errors for exit code 1. Usage and configuration
// problems are wrapped with exitUsage so scripts can tell them apart from a
// failed dataset or an aborted refinement.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{Code: exitUsage, Err: err}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var coded *ExitCodeError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return exitFailure
}
