package handlers

import (
	"net/http"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/usage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UsageResponse lists a user's counters.
type UsageResponse struct {
	User     string          `json:"user"`
	Month    string          `json:"month,omitempty"`
	Counters []usage.Counter `json:"counters"`
}

// UsageHandler serves GET /usage/{user}. The optional "month" query
// parameter (YYYY-MM) narrows the counters to one month.
type UsageHandler struct {
	store  usage.Store
	logger *zap.Logger
}

// NewUsageHandler creates a usage handler over store.
func NewUsageHandler(store usage.Store, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{store: store, logger: logger}
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user := chi.URLParam(r, "user")
	if user == "" {
		errors.WriteError(w, errors.NewValidationError(requestID, "user is required",
			map[string]interface{}{"field": "user"}))
		return
	}

	month := r.URL.Query().Get("month")
	if month != "" {
		if _, err := time.Parse(usage.MonthFormat, month); err != nil {
			errors.WriteError(w, errors.NewValidationError(requestID, "month must be formatted YYYY-MM",
				map[string]interface{}{"field": "month", "value": month}))
			return
		}
	}

	counters := []usage.Counter{}
	for _, c := range h.store.Snapshot(user) {
		if month == "" || c.Month == month {
			counters = append(counters, c)
		}
	}
	writeJSON(w, http.StatusOK, UsageResponse{User: user, Month: month, Counters: counters}, h.logger)
}
