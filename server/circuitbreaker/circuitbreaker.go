// Package circuitbreaker wraps sony/gobreaker with logging and Prometheus
// metrics. One breaker guards one provider family.
package circuitbreaker

import (
	"errors"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned for calls rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors gobreaker's states so callers don't import it.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Metrics are shared by every breaker and labelled by breaker name.
type Metrics struct {
	state    *prometheus.GaugeVec
	failures *prometheus.CounterVec
	trips    *prometheus.CounterVec
}

// NewMetrics registers the breaker metrics. A nil registerer leaves them
// unregistered, which tests use to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_circuit_breaker_failures_total",
			Help: "Total number of failures recorded by the circuit breaker",
		}, []string{"name"}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_circuit_breaker_trips_total",
			Help: "Total number of times the circuit breaker has tripped",
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.failures, m.trips)
	}
	return m
}

// CircuitBreaker opens after a run of consecutive failures and rejects
// calls until the open timeout passes.
type CircuitBreaker struct {
	name      string
	cb        *gobreaker.CircuitBreaker
	metrics   *Metrics
	logger    *zap.Logger
	isFailure func(error) bool
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithFailureFilter limits which errors count against the breaker. Errors
// for which isFailure returns false are still returned to the caller but
// recorded as successes.
func WithFailureFilter(isFailure func(error) bool) Option {
	return func(b *CircuitBreaker) { b.isFailure = isFailure }
}

// NewCircuitBreaker creates a breaker named after the thing it guards.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, metrics *Metrics, logger *zap.Logger, opts ...Option) *CircuitBreaker {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	b := &CircuitBreaker{
		name:      name,
		metrics:   metrics,
		logger:    logger,
		isFailure: func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !b.isFailure(err)
		},
		OnStateChange: b.onStateChange,
	})
	metrics.state.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// onStateChange runs under gobreaker's lock and must not call back into cb.
func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.metrics.state.WithLabelValues(name).Set(float64(to))
	if to == gobreaker.StateOpen {
		b.metrics.trips.WithLabelValues(name).Inc()
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs f if the breaker allows it and records the outcome. A
// rejected call returns ErrCircuitOpen without running f.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err != nil && b.isFailure(err) {
		b.metrics.failures.WithLabelValues(b.name).Inc()
	}
	return err
}

// Name returns the breaker's name.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current state.
func (b *CircuitBreaker) State() State { return b.cb.State() }

// Counts returns the counters of the current generation.
func (b *CircuitBreaker) Counts() gobreaker.Counts { return b.cb.Counts() }
