package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and provides error handling
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", stack),
						zap.String("request_id", r.Header.Get("X-Request-ID")),
					)

					relayErr := NewInternalError(r.Header.Get("X-Request-ID"), nil)
					WriteError(w, relayErr)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs an error with its context. Raw provider payloads are
// included only at this point so they never reach a client.
func LogError(logger *zap.Logger, err error, requestID string) {
	if relayErr, ok := err.(*RelayError); ok {
		fields := []zap.Field{
			zap.String("error_type", string(relayErr.Type)),
			zap.String("message", relayErr.Message),
			zap.Int("code", relayErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", relayErr.Details),
		}
		if len(relayErr.Raw) > 0 {
			fields = append(fields, zap.ByteString("raw", relayErr.Raw))
		}
		if relayErr.err != nil {
			fields = append(fields, zap.Error(relayErr.err))
		}
		logger.Error("request error", fields...)
	} else {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}
}
