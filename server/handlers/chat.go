package handlers

import (
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/validation"
	"go.uber.org/zap"
)

// ChatHandler runs one turn per request. The body is the canonical chat
// request; the response is the canonical result. A failed turn is answered
// with the status of its error kind and still carries the result metadata.
type ChatHandler struct {
	relay     Relay
	validator *validation.Validator
	logger    *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(relay Relay, validator *validation.Validator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{relay: relay, validator: validator, logger: logger}
}

// ServeHTTP implements http.Handler. When the validation middleware ran
// first the decoded request is taken from the context.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	req, ok := validation.RequestFrom(r.Context())
	if !ok {
		var rerr *errors.RelayError
		if req, rerr = h.validator.Decode(r); rerr != nil {
			errors.WriteError(w, rerr)
			return
		}
	}

	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("user", req.User),
		zap.String("model", req.Model),
	)
	logger.Debug("Processing chat request", zap.Int("messages_count", len(req.Messages)))

	res := h.relay.Complete(r.Context(), requestID, req)
	if r.Context().Err() != nil {
		logger.Info("client went away before the turn finished")
		return
	}

	status := http.StatusOK
	if res.Error != nil {
		status = res.Error.Code
		if status == 0 {
			status = errors.StatusCode(res.Error.Type)
		}
	}
	writeJSON(w, status, res, logger)
}
