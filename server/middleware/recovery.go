package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 internal_error body carrying
// the request id. http.ErrAbortHandler is re-raised so net/http can drop
// the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				requestID := GetRequestID(r.Context())
				logger.Error("handler panicked",
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.String("client", GetClient(r.Context())),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()),
				)
				errors.WriteError(w, errors.NewInternalError(requestID, fmt.Errorf("panic: %v", v)))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
