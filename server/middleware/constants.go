package middleware

import "context"

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ClientKey    contextKey = "client"
)

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetClient returns the caller name stored by Authenticator, or "".
func GetClient(ctx context.Context) string {
	c, _ := ctx.Value(ClientKey).(string)
	return c
}
