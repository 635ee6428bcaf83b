package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType classifies every failure a backend can surface.
type ErrorType string

const (
	ErrorTypeConfiguration      ErrorType = "configuration_error"
	ErrorTypeModelNotFound      ErrorType = "model_not_found"
	ErrorTypeModelNotDownloaded ErrorType = "model_not_downloaded"
	ErrorTypeModelLoadFailed    ErrorType = "model_load_failed"
	ErrorTypeNotConnected       ErrorType = "not_connected"
	ErrorTypeConnectionFailed   ErrorType = "connection_failed"
	ErrorTypeRequestFailed      ErrorType = "request_failed"
	ErrorTypeInvalidResponse    ErrorType = "invalid_response"
	ErrorTypeVisionNotSupported ErrorType = "vision_not_supported"
	ErrorTypeNetworkUnavailable ErrorType = "network_unavailable"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeServerUnavailable  ErrorType = "server_unavailable"
	ErrorTypeRateLimited        ErrorType = "rate_limit_exceeded"
	// Reserved for a future authenticated transport. Nothing constructs
	// this today.
	ErrorTypeAuthentication ErrorType = "authentication_failed"
	ErrorTypeMaxRetries     ErrorType = "max_retries_exceeded"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error is the taxonomy error every backend operation returns.
type Error struct {
	Type    ErrorType
	Message string

	// HTTP status for connection_failed and request_failed.
	StatusCode int

	// Underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

func Errorf(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

func WrapError(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// StatusError builds a connection_failed or request_failed error
// carrying the upstream HTTP status.
func StatusError(t ErrorType, status int, msg string) *Error {
	return &Error{Type: t, Message: msg, StatusCode: status}
}

// TypeOf walks the error chain and returns the taxonomy type, or
// ErrorTypeUnknown for foreign errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// StatusCodeOf returns the upstream HTTP status carried by the error
// chain, or 0.
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Transient reports whether the retry executor may replay the failed
// attempt. Kind-based for taxonomy errors; transport-level timeouts
// from foreign errors also qualify.
func Transient(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeTimeout, ErrorTypeNetworkUnavailable, ErrorTypeServerUnavailable, ErrorTypeRateLimited:
		return true
	case ErrorTypeUnknown:
		// fall through to the transport checks below
	default:
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ClassifyTransport maps a raw transport error to the taxonomy. Used at
// the HTTP-client boundary so everything above it sees taxonomy errors.
func ClassifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrorTypeTimeout, "request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapError(ErrorTypeTimeout, "network timeout", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return WrapError(ErrorTypeNetworkUnavailable, "host lookup failed", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WrapError(ErrorTypeNetworkUnavailable, "network unreachable", err)
	}

	return WrapError(ErrorTypeUnknown, "transport failure", err)
}
