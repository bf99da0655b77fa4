// Package cberr defines the closed error taxonomy of the bridge: every
// failure a caller can observe carries one of the Reason codes declared
// here, a human message and optional provider details. The package also
// exposes the retry policy (retryability and backoff delay) as plain data;
// the bridge itself never retries a command.
package cberr

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by every public bridge operation. It
// wraps a stable Reason, a human message and the raw provider details (if
// the worker supplied any).
type Error struct {
	Reason  Reason         // The classified failure reason
	Message string         // The human readable message
	Details map[string]any // Optional provider details, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("BridgeError (%s): %s", e.Reason, e.Message)
}

// Retryable reports whether the caller may reasonably retry the failed
// operation. Shorthand for e.Reason.Retryable().
func (e *Error) Retryable() bool {
	return e.Reason.Retryable()
}

// RetryDelay returns the suggested backoff before the given retry attempt.
// Shorthand for RetryDelay(e.Reason, attempt).
func (e *Error) RetryDelay(attempt int) time.Duration {
	return RetryDelay(e.Reason, attempt)
}

// New creates a new Error with the given reason and message. An empty
// message is replaced by the reason's canonical message.
func New(reason Reason, msg string) *Error {
	if msg == "" {
		msg = reason.DefaultMessage()
	}
	return &Error{
		Reason:  reason,
		Message: msg,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(reason Reason, format string, args ...any) *Error {
	return New(reason, fmt.Sprintf(format, args...))
}

// FromCode classifies a provider error code and builds the Error a caller
// observes. The message falls back to the reason's canonical message and
// finally to the raw code, so the result is never silent about its origin.
func FromCode(code, message string, details map[string]any) *Error {
	reason := Classify(code)
	if message == "" {
		message = reason.DefaultMessage()
		if reason == ReasonUnknownError && code != "" {
			message = fmt.Sprintf("unrecognized provider error code %q", code)
		}
	}
	return &Error{
		Reason:  reason,
		Message: message,
		Details: details,
	}
}

// --------------------------------------------------------------------------
// Inspection helpers
// --------------------------------------------------------------------------

// ReasonOf extracts the Reason from any error. Errors that are not (or do
// not wrap) a *Error report ReasonUnknownError.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonUnknownError
}

// IsReason reports whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason == reason
	}
	return false
}

// IsRetryable reports whether err is a bridge error whose reason permits a
// retry. Non-bridge errors are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
