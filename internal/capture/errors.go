package capture

import (
	"errors"
	"fmt"
)

// Error codes for capture operations.
const (
	ErrCodeDeviceUnavailable      = "DEVICE_UNAVAILABLE"
	ErrCodeDeviceBusy             = "DEVICE_BUSY"
	ErrCodeNoSupportedFormat      = "NO_SUPPORTED_FORMAT"
	ErrCodeBufferAllocationFailed = "BUFFER_ALLOCATION_FAILED"
	ErrCodeCaptureTimeout         = "CAPTURE_TIMEOUT"
	ErrCodeCaptureError           = "CAPTURE_ERROR"
)

// Error represents a capture-specific error with a code.
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

// CodeOf returns the capture error code carried by err, or "" if err is not
// a capture error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given capture error code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
