package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error. StatusCode
// carries the upstream HTTP status when the failure came from a remote call.
type AppError struct {
	Op         string
	Msg        string
	StatusCode int
	Err        error
}

func (e *AppError) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewStatusError constructs an AppError for an unexpected upstream status.
func NewStatusError(op string, status int) error {
	return &AppError{Op: op, Msg: "unexpected upstream response", StatusCode: status}
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
