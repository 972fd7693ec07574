// Package errors provides error response utilities.
package errors

import (
	"errors"
)

// ErrorResponse represents a standardized error response format
// that is returned to clients when an error occurs. It includes:
//   - Error type for categorization
//   - Human-readable message
//   - Request ID for correlation
//   - Optional details for additional context
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// IsUpstream reports whether err is (or wraps) a RelayError marked as a
// failure of the remote service.
func IsUpstream(err error) bool {
	var relayErr *RelayError
	return errors.As(err, &relayErr) && relayErr.Upstream
}

// TypeOf returns the ErrorType of err when it is (or wraps) a RelayError,
// and InternalError otherwise.
func TypeOf(err error) ErrorType {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Type
	}
	return InternalError
}
