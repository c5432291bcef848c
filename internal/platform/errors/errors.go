// Package errors provides the structured error taxonomy shared by the websocket
// core and the HTTP layer: every failure carries a Type that decides both the
// reply frame sent to a socket and the HTTP status sent to an admin caller.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates a malformed inbound frame or request body (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeUnknownAction indicates a well-formed frame naming an unknown action (HTTP 400)
	TypeUnknownAction ErrorType = "unknown_action"
	// TypeUnauthorized indicates a missing or wrong internal API key (HTTP 401)
	TypeUnauthorized ErrorType = "unauthorized"
	// TypeTransport indicates a failed write to an individual socket
	TypeTransport ErrorType = "transport"
	// TypeStore indicates the subscription store failed or is unreachable (HTTP 503)
	TypeStore ErrorType = "store"
	// TypeInternal indicates server-side error (HTTP 500)
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
	case TypeValidation, TypeUnknownAction:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeStore:
		return http.StatusServiceUnavailable
	case TypeTransport, TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ValidationError creates a new validation error.
func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

// UnknownActionError creates an error for an unrecognized action or event name.
func UnknownActionError(action string) *Error {
	return newError(TypeUnknownAction, "Unknown action", nil).WithContext("action", action)
}

// UnauthorizedError creates a new unauthorized error.
func UnauthorizedError(message string) *Error {
	return newError(TypeUnauthorized, message, nil)
}

// TransportError wraps a failed socket write.
func TransportError(message string, cause error) *Error {
	return newError(TypeTransport, message, cause)
}

// StoreError wraps a failed subscription store operation. These are always
// surfaced to the caller; the core never retries them.
func StoreError(message string, cause error) *Error {
	return newError(TypeStore, message, cause)
}

// InternalError creates a new internal error.
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse represents the JSON structure sent to HTTP clients.
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

// IsType reports whether err is (or wraps) a structured error of type t.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}
