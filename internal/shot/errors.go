package shot

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable failure category reported to callers.
type ErrorKind string

// Failure categories.
const (
	InvalidInput         ErrorKind = "invalid_input"
	CaptureTimeout       ErrorKind = "capture_timeout"
	CaptureUnavailable   ErrorKind = "capture_unavailable"
	CaptureFailed        ErrorKind = "capture_failed"
	CompositeFailed      ErrorKind = "composite_failed"
	EncodeFailed         ErrorKind = "encode_failed"
	Busy                 ErrorKind = "busy"
	InternalCleanupError ErrorKind = "internal_cleanup_error"
)

// Error is the structured failure returned by pipeline stages.
type Error struct {
	Kind    ErrorKind
	Message string
	// Diagnostics holds encoder output for EncodeFailed.
	Diagnostics string
	Err         error
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that keeps err in its chain.
func Wrap(kind ErrorKind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DiagnosticsOf returns the diagnostic output carried by err, or "" when it has none.
func DiagnosticsOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostics
	}
	return ""
}
