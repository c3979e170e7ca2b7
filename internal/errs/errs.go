package errs

import (
	"context"
	"errors"
)

// Code is a harness error code.
type Code string

const (
	Skipped            Code = "skipped"
	AuthFailed         Code = "auth_failed"
	VerificationFailed Code = "verification_failed"
	DeadlineExceeded   Code = "deadline_exceeded"
	InvalidArgument    Code = "invalid_argument"
	Unavailable        Code = "unavailable"
	Internal           Code = "internal"
)

// Outcome is the user-visible result of one service run.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
	Skip Outcome = "skip"
)

// Error is a coded harness error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
// A bare context deadline is reported as deadline_exceeded.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return Internal
}

// MessageOf returns the outermost coded message, or "internal error" for untyped errors.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// OutcomeOf maps an error code to the result it produces.
// Only a missing credential skips; every other code fails the run.
func OutcomeOf(code Code) Outcome {
	switch code {
	case Skipped:
		return Skip
	default:
		return Fail
	}
}
