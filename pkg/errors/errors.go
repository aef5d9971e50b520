// Package errors provides the application error type shared by the relay's
// components. Each code maps to one failure boundary of a transcription
// session plus the usual resource/validation codes used by the HTTP routes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a machine-readable error code.
type ErrorCode string

// Session failure boundaries.
const (
	// CodeUpstreamConnect means the STT provider handshake failed.
	CodeUpstreamConnect ErrorCode = "UPSTREAM_CONNECT"
	// CodeUpstreamTransport means a read or write on an open provider link failed.
	CodeUpstreamTransport ErrorCode = "UPSTREAM_TRANSPORT"
	// CodeMalformedEvent means a provider event could not be decoded.
	CodeMalformedEvent ErrorCode = "MALFORMED_EVENT"
	// CodePersistence means a segment store call failed.
	CodePersistence ErrorCode = "PERSISTENCE"
	// CodeClientChannel means a message could not be delivered to the client.
	CodeClientChannel ErrorCode = "CLIENT_CHANNEL"
)

// Resource and request codes.
const (
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	CodeUpstreamConnect:   true,
	CodeUpstreamTransport: true,
	CodePersistence:       true,
}

// IsRetryableCode reports whether errors with the code may succeed on retry.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// AppError is the unified application error type.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with retryable detection from the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// UpstreamConnect wraps a failed provider handshake.
func UpstreamConnect(provider string, cause error) *AppError {
	return New(CodeUpstreamConnect, fmt.Sprintf("Unable to connect to %s.", provider), http.StatusBadGateway).
		WithCause(cause).
		WithDetail("provider", provider)
}

// UpstreamTransport wraps a read/write fault on an established provider link.
func UpstreamTransport(provider string, cause error) *AppError {
	return New(CodeUpstreamTransport, fmt.Sprintf("Connection to %s failed.", provider), http.StatusBadGateway).
		WithCause(cause).
		WithDetail("provider", provider)
}

// MalformedEvent wraps a provider event that could not be decoded.
func MalformedEvent(cause error) *AppError {
	return New(CodeMalformedEvent, "Provider event could not be decoded.", http.StatusBadGateway).WithCause(cause)
}

// Persistence wraps a failed store operation.
func Persistence(operation string, cause error) *AppError {
	return New(CodePersistence, fmt.Sprintf("Failed to %s.", operation), http.StatusInternalServerError).
		WithCause(cause).
		WithDetail("operation", operation)
}

// ClientChannel wraps a failed send to the client.
func ClientChannel(cause error) *AppError {
	return New(CodeClientChannel, "Could not deliver message to client.", http.StatusInternalServerError).WithCause(cause)
}

// NotFound creates an error for a missing resource.
func NotFound(resource, id string) *AppError {
	e := New(CodeNotFound, fmt.Sprintf("The requested %s was not found.", resource), http.StatusNotFound).
		WithDetail("resource", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

// InvalidInput creates an error for a rejected request field.
func InvalidInput(field, reason string) *AppError {
	e := New(CodeInvalidInput, fmt.Sprintf("Invalid input: %s", reason), http.StatusBadRequest)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

// Conflict creates an error for a request that clashes with current state.
func Conflict(reason string) *AppError {
	return New(CodeConflict, reason, http.StatusConflict)
}

// Internal creates an error for an unexpected failure.
func Internal(cause error) *AppError {
	return New(CodeInternal, "An unexpected error occurred.", http.StatusInternalServerError).WithCause(cause)
}

// AsAppError extracts an *AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
