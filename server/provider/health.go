package provider

import (
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/circuitbreaker"
)

// HealthStatus is the observed state of a provider, built from real turns
// rather than synthetic requests, which would spend tokens.
type HealthStatus struct {
	Healthy          bool          `json:"healthy"`
	BreakerState     string        `json:"breaker_state"`
	LastCheck        time.Time     `json:"last_check,omitempty"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	Latency          time.Duration `json:"latency"`
	ErrorCount       int64         `json:"error_count"`
	RequestCount     int64         `json:"request_count"`
	LastError        string        `json:"last_error,omitempty"`
}

// recordOutcome folds one turn into the provider's status. Only upstream
// failures mark the provider unhealthy.
func (r *Relay) recordOutcome(kind Kind, latency time.Duration, fail *errors.RelayError) {
	status := HealthStatus{Healthy: true}
	if v, ok := r.healthStates.Load(kind); ok {
		status = v.(HealthStatus)
	}
	status.LastCheck = time.Now()
	status.Latency = latency
	status.RequestCount++

	switch {
	case fail != nil && !fail.Upstream:
		// The request or the user's key was at fault; the provider answered.
		status.ErrorCount++
		status.LastError = string(fail.Type)
	case fail != nil:
		status.Healthy = false
		status.ErrorCount++
		status.ConsecutiveFails++
		status.LastError = string(fail.Type)
		r.metrics.healthy.WithLabelValues(string(kind)).Set(0)
	default:
		status.Healthy = true
		status.ConsecutiveFails = 0
		status.LastError = ""
		r.metrics.healthy.WithLabelValues(string(kind)).Set(1)
	}
	r.healthStates.Store(kind, status)
}

// Health returns the status of every configured provider. Providers that
// have not served a turn yet are reported healthy unless their breaker is
// open.
func (r *Relay) Health() map[Kind]HealthStatus {
	out := make(map[Kind]HealthStatus, len(r.adapters))
	for kind := range r.adapters {
		status := HealthStatus{Healthy: true}
		if v, ok := r.healthStates.Load(kind); ok {
			status = v.(HealthStatus)
		}
		if b, ok := r.breakers[kind]; ok {
			status.BreakerState = b.State().String()
			if b.State() == circuitbreaker.StateOpen {
				status.Healthy = false
			}
		}
		out[kind] = status
	}
	return out
}
