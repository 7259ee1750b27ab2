// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeConfig indicates missing or invalid configuration (HTTP 400)
	TypeConfig ErrorType = "config"
	// TypeConnect indicates a socket handshake failure (HTTP 502)
	TypeConnect ErrorType = "connect"
	// TypeProtocol indicates a malformed wire frame or decompression failure (HTTP 500)
	TypeProtocol ErrorType = "protocol"
	// TypeAPI indicates a non-zero response code from the open platform (HTTP 502)
	TypeAPI ErrorType = "api"
	// TypeTransport indicates a socket read/write failure (HTTP 500)
	TypeTransport ErrorType = "transport"
	// TypeConflict indicates a lifecycle conflict, e.g. starting twice (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeInternal indicates an unclassified server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeConfig:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeConnect, TypeAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ConfigError creates a new configuration error (HTTP 400).
func ConfigError(message string) *Error {
	return &Error{
		Type:    TypeConfig,
		Message: message,
		Context: make(map[string]any),
	}
}

// ConnectError creates a new socket handshake error (HTTP 502).
func ConnectError(message string, cause error) *Error {
	return &Error{
		Type:    TypeConnect,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ProtocolError creates a new wire protocol error (HTTP 500).
func ProtocolError(message string, cause error) *Error {
	return &Error{
		Type:    TypeProtocol,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// APIError creates a new open-platform API error carrying the upstream response code (HTTP 502).
func APIError(message string, code int) *Error {
	e := &Error{
		Type:    TypeAPI,
		Message: message,
		Context: make(map[string]any),
	}
	e.Context["upstream_code"] = code
	return e
}

// TransportError creates a new socket transport error (HTTP 500).
func TransportError(message string, cause error) *Error {
	return &Error{
		Type:    TypeTransport,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ConflictError creates a new conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return &Error{
		Type:    TypeConflict,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is a structured Error of the given type.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr.Type == t
	}
	return false
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
