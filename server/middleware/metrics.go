package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PrometheusMetrics counts relay API calls by route and status. The
// endpoint label is the matched route pattern, so /v1/usage/{user} is one
// series rather than one per user.
func PrometheusMetrics(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inflight := m.ActiveRequests.WithLabelValues("inflight")
			inflight.Inc()
			defer inflight.Dec()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			endpoint := routePattern(r)
			m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			m.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

			switch {
			case code >= http.StatusInternalServerError:
				m.ErrorsTotal.WithLabelValues("server_error").Inc()
			case code >= http.StatusBadRequest:
				m.ErrorsTotal.WithLabelValues("client_error").Inc()
			}
		})
	}
}

// routePattern is only complete once chi has finished routing, i.e. after
// next returns.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
