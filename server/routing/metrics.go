package routing

import (
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"github.com/go-chi/chi/v5"
)

// RegisterMetricsRoutes adds routes for Prometheus metrics
func RegisterMetricsRoutes(r chi.Router, m *metrics.Metrics) {
	r.Method(http.MethodGet, "/metrics", m.Handler())
}
