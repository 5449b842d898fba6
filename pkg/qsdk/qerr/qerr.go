package qerr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown Code = "unknown"

	// CodeSubmissionFailed: POST /api/run failed at the transport or was
	// rejected by the service. No run is tracked.
	CodeSubmissionFailed Code = "submission_failed"
	// CodePollTransport: GET /api/run/{id} failed on the client side.
	CodePollTransport Code = "poll_transport"
	// CodeServiceFailed: the service reported FAILED.
	CodeServiceFailed Code = "service_failed"
	// CodeDataMissing: the service reported DATA_MISSING.
	CodeDataMissing Code = "data_missing"
	// CodeSuperseded: a newer submission started before this one was tracked.
	CodeSuperseded Code = "superseded"
	// CodeBadResponse: the service answered with a body we cannot read.
	CodeBadResponse Code = "bad_response"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.err
	}
	return false
}

// CodeOf returns the outermost code in err's chain, CodeUnknown when none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
