// Package errors provides the error taxonomy shared by the relay core and its
// service API. Provider adapters report failures as *RelayError values whose
// Type is one of the five core kinds (missing credential, transient,
// malformed response, network, terminal); the HTTP layer adds its own types
// for validation, authentication and rate limiting.
//
// The package also carries integrated zap logging and JSON rendering so that
// every error leaving the service has the same shape:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusBadRequest)
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid input", errors.ValidationError, http.StatusBadRequest)
//
// Core failures are built with the constructors in types.go:
//
//	err := errors.NewMalformedError("anthropic response has no text block", body)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents a category of failure. The first block holds the
// kinds a provider call can end with; the second block is used only by the
// service API.
type ErrorType string

const (
	// MissingCredentialError means the user has no API key for the selected provider.
	MissingCredentialError ErrorType = "missing_credential"

	// TransientError means the provider signalled temporary overload.
	TransientError ErrorType = "transient"

	// MalformedError means the response violated the expected wire contract.
	MalformedError ErrorType = "malformed_response"

	// NetworkError covers timeouts, DNS failures and connection resets.
	NetworkError ErrorType = "network_error"

	// TerminalError is a provider failure that will not be retried, including
	// transient failures whose retry budget ran out.
	TerminalError ErrorType = "terminal"
)

const (
	// AuthError represents authentication and authorization failures
	AuthError ErrorType = "authentication_error"

	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// RateLimitError represents rate limiting errors
	RateLimitError ErrorType = "rate_limit_error"

	// QueueFullError is returned when the admission queue has no room left
	QueueFullError ErrorType = "queue_full"

	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"
)

// RelayError is the error type returned by every provider adapter and
// rendered by the service API. Raw keeps the provider payload for logging; it
// is never serialized to clients.
type RelayError struct {
	// Type categorizes the error so callers can branch without string matching
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// Raw is the provider payload that caused the error (not exposed in JSON)
	Raw []byte `json:"-"`

	// Upstream marks failures of the remote service rather than of the
	// request: overloads, 5xx responses, timeouts and connection errors.
	Upstream bool `json:"-"`

	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *RelayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *RelayError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// error matching while ignoring other fields.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Retryable reports whether the retry policy may try the call again.
func (e *RelayError) Retryable() bool {
	return e != nil && e.Type == TransientError
}

// WithRequestID returns a copy of the error tagged with the given request id.
func (e *RelayError) WithRequestID(requestID string) *RelayError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// WriteError formats and writes a RelayError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response.
func WriteError(w http.ResponseWriter, err *RelayError) {
	code := err.Code
	if code == 0 {
		code = StatusCode(err.Type)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(err)
}

// Error is a drop-in replacement for http.Error that creates and writes
// a RelayError with the InternalError type. It automatically includes
// the request ID from the response headers if available.
func Error(w http.ResponseWriter, message string, code int) {
	ErrorWithType(w, message, InternalError, code)
}

// ErrorWithType is like Error but allows specifying the error type.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}

// StatusCode maps an error type to the HTTP status the service API uses for it.
func StatusCode(t ErrorType) int {
	switch t {
	case MissingCredentialError, AuthError:
		return http.StatusUnauthorized
	case TransientError, QueueFullError:
		return http.StatusServiceUnavailable
	case MalformedError, TerminalError:
		return http.StatusBadGateway
	case NetworkError:
		return http.StatusGatewayTimeout
	case ValidationError:
		return http.StatusBadRequest
	case RateLimitError:
		return http.StatusTooManyRequests
	case NotFoundError:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
