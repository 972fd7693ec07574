// Package handlers provides the HTTP handlers of the relay service API.
// Handlers translate between HTTP and the relay; turn semantics live in the
// provider package.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"go.uber.org/zap"
)

// Relay is the part of provider.Relay the handlers use.
type Relay interface {
	Complete(ctx context.Context, requestID string, req *chat.Request) chat.Result
	Transcribe(ctx context.Context, requestID, user, filename string, audio io.Reader) (string, *errors.RelayError)
	Health() map[provider.Kind]provider.HealthStatus
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}
