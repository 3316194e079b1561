package main

import (
	"errors"

	ferryerrors "ferry/internal/shared/errors"
)

// Exit codes scripts can rely on. Everything else exits with 1.
const (
	exitUsage    = 2
	exitConflict = 3
)

// ExitCodeError wraps an error with a specific process exit code.
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

func exitCodeFor(err error) int {
	var coded *ExitCodeError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &coded) && coded.Code != 0:
		return coded.Code
	case errors.Is(err, ferryerrors.ErrPullConflict):
		return exitConflict
	case errors.Is(err, ferryerrors.ErrInvalidArgument), errors.Is(err, ferryerrors.ErrUnknownAgent):
		return exitUsage
	default:
		return 1
	}
}

func guidanceFor(err error) string {
	return ferryerrors.Guidance(err)
}
