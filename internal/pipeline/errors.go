package pipeline

import (
	"errors"
	"fmt"
)

// Error codes for pipeline operations.
const (
	// ErrCodeInvalidConfig marks rejected pipeline options.
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	// ErrCodeStreamClosed marks use of a pipeline that is not streaming.
	ErrCodeStreamClosed = "STREAM_CLOSED"
	// ErrCodeStillUnavailable marks a still request on a stream whose
	// frames pass through without a decodable raw form. The encoded
	// frame is still delivered alongside this error.
	ErrCodeStillUnavailable = "STILL_IMAGE_UNAVAILABLE"
)

// Error represents a pipeline error with a code.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err carries the given pipeline error code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
