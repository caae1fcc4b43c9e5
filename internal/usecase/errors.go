package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorNotFound      ErrorCode = "NOT_FOUND"
	ErrorRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorCommunication ErrorCode = "COMMUNICATION_ERROR"
	ErrorTranscriptIO  ErrorCode = "TRANSCRIPT_IO_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// communicationError classifies a failed chat round-trip.
func communicationError(reason string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, reason+"_rate_limited", err)
	}
	return newError(ErrorCommunication, reason+"_error", err)
}
