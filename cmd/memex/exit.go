package main

import (
	"errors"

	"github.com/user/memex/internal/enginerr"
)

// exitError carries an explicit process exit code alongside its message,
// letting RunE return a normal error while main() still exits with the
// contract's code (spec §6: 0 success, 2 usage error, 124 timeout, 130
// user-cancelled, otherwise the backend's exit code or 1).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCodeFor maps a RunE error to the process exit code contract.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	switch {
	case errors.Is(err, enginerr.ErrConfig), errors.Is(err, enginerr.ErrParseInput):
		return 2
	case errors.Is(err, enginerr.ErrTimeout):
		return 124
	case errors.Is(err, enginerr.ErrCancelled):
		return 130
	default:
		return 1
	}
}
