package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"go.uber.org/zap"
)

// MaxAudioBytes is the largest upload accepted, matching OpenAI's limit.
const MaxAudioBytes = 25 << 20

// TranscriptionResponse is the body of a successful transcription.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// TranscriptionHandler accepts a multipart form with a "file" part and a
// "user" field and returns the transcript.
type TranscriptionHandler struct {
	relay  Relay
	logger *zap.Logger
}

// NewTranscriptionHandler creates a transcription handler.
func NewTranscriptionHandler(relay Relay, logger *zap.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{relay: relay, logger: logger}
}

func (h *TranscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, MaxAudioBytes)
	if err := r.ParseMultipartForm(MaxAudioBytes); err != nil {
		errors.WriteError(w, errors.NewValidationError(requestID, "Invalid multipart form",
			map[string]interface{}{"error": err.Error()}))
		return
	}
	defer r.MultipartForm.RemoveAll()

	user := r.FormValue("user")
	if user == "" {
		errors.WriteError(w, errors.NewValidationError(requestID, "field 'user' is required",
			map[string]interface{}{"field": "user"}))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		errors.WriteError(w, errors.NewValidationError(requestID, "field 'file' is required",
			map[string]interface{}{"field": "file"}))
		return
	}
	defer file.Close()

	logger := h.logger.With(zap.String("request_id", requestID), zap.String("user", user))
	filename := filepath.Base(header.Filename)
	if filename == "." || filename == string(filepath.Separator) {
		filename = "audio"
	}

	text, rerr := h.relay.Transcribe(r.Context(), requestID, user, filename, file)
	if rerr != nil {
		errors.LogError(logger, rerr, requestID)
		errors.WriteError(w, rerr)
		return
	}
	logger.Info("transcription completed", zap.Int64("bytes", header.Size))
	writeJSON(w, http.StatusOK, TranscriptionResponse{Text: text}, logger)
}
