package provider

import "github.com/prometheus/client_golang/prometheus"

// Metrics records per-provider call outcomes.
type Metrics struct {
	requestLatency *prometheus.HistogramVec
	attempts       *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	droppedTooling *prometheus.CounterVec
	healthy        *prometheus.GaugeVec
}

// NewMetrics creates the provider metrics and registers them on reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_provider_request_latency_seconds",
			Help:    "Latency of a relayed turn including retries",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_provider_attempts",
			Help:    "Provider calls made per turn",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"provider"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_provider_errors_total",
			Help: "Failed turns by provider and error kind",
		}, []string{"provider", "type"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tokens_total",
			Help: "Tokens accounted by provider and direction",
		}, []string{"provider", "direction"}),
		droppedTooling: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dropped_tooling_total",
			Help: "Tooling requests dropped because the provider lacks the capability",
		}, []string{"provider", "tool"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_healthy_providers",
			Help: "Whether the last turn to a provider succeeded (1) or failed (0)",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestLatency, m.attempts, m.errors, m.tokens, m.droppedTooling, m.healthy)
	}
	return m
}
