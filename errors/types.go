package errors

import (
	"fmt"
	"net/http"
)

// NewError creates a new RelayError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "usage store unavailable", 500, "req_123", nil, storeErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *RelayError {
	return &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewMissingCredentialError reports that the user has not configured a key
// for provider. The message is shown to end users as-is, so it tells them how
// to add one.
func NewMissingCredentialError(provider string) *RelayError {
	return &RelayError{
		Type: MissingCredentialError,
		Message: fmt.Sprintf(
			"No API key is configured for %s. Send /apikey %s <your-key> to add one, then try again.",
			provider, provider),
		Code: http.StatusUnauthorized,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewTransientError creates an error the retry policy will try again.
func NewTransientError(message string, raw []byte) *RelayError {
	return &RelayError{
		Type:     TransientError,
		Message:  message,
		Code:     http.StatusServiceUnavailable,
		Raw:      raw,
		Upstream: true,
	}
}

// NewMalformedError reports a response that is not valid JSON or lacks the
// expected success fields. raw is kept for logging.
func NewMalformedError(message string, raw []byte) *RelayError {
	return &RelayError{
		Type:    MalformedError,
		Message: message,
		Code:    http.StatusBadGateway,
		Raw:     raw,
	}
}

// NewNetworkError wraps a transport-level failure such as a timeout.
func NewNetworkError(message string, err error) *RelayError {
	return &RelayError{
		Type:    NetworkError,
		Message: message,
		Code:    http.StatusGatewayTimeout,
		err:     err,
	}
}

// NewTerminalError creates a provider error that will not be retried.
func NewTerminalError(message string, raw []byte) *RelayError {
	return &RelayError{
		Type:    TerminalError,
		Message: message,
		Code:    http.StatusBadGateway,
		Raw:     raw,
	}
}

// AsTerminal converts an exhausted error into a terminal one, keeping its
// message and raw payload.
func AsTerminal(err *RelayError) *RelayError {
	cp := *err
	cp.Type = TerminalError
	cp.Code = http.StatusBadGateway
	return &cp
}

// NewAuthError creates an authentication error with appropriate defaults.
// Use this when a caller of the service API presents no or an unknown key.
//
// Example:
//
//	err := NewAuthError("req_123", "Invalid API key", nil)
func NewAuthError(requestID, message string, err error) *RelayError {
	return &RelayError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewValidationError creates a validation error with appropriate defaults.
// Use this for any request validation failures, such as:
//   - Invalid input formats
//   - Missing required fields
//   - Value constraint violations
//
// Example:
//
//	err := NewValidationError("req_123", "Invalid message role", map[string]interface{}{
//	    "field": "messages[0].role",
//	    "error": "oneof",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *RelayError {
	return &RelayError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewRateLimitError creates a rate limit error with appropriate defaults.
//
// Example:
//
//	err := NewRateLimitError("req_123", 30)
func NewRateLimitError(requestID string, retryAfter int) *RelayError {
	return &RelayError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewInternalError creates an internal server error with appropriate defaults.
// Use this for unexpected errors that are not covered by other error types:
//   - Panics
//   - Storage errors
//   - Unexpected system failures
//
// Example:
//
//	err := NewInternalError("req_123", storeErr)
func NewInternalError(requestID string, err error) *RelayError {
	return &RelayError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
