package provider

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/circuitbreaker"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"

// UsageRecorder receives the usage of every successful turn.
type UsageRecorder interface {
	Record(user, scope string, u chat.Usage) error
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, apiKey, filename string, audio io.Reader) (string, *errors.RelayError)
}

// Relay runs one turn end to end: route the model, resolve the user's
// credential, dispatch through the provider's breaker and the retry policy,
// then account usage. A turn is synchronous; the caller blocks through
// retries and backoff sleeps.
type Relay struct {
	router   atomic.Pointer[Router]
	retry    atomic.Pointer[RetryPolicy]
	adapters map[Kind]Adapter
	breakers map[Kind]*circuitbreaker.CircuitBreaker
	creds    CredentialStore
	usage    UsageRecorder
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *zap.Logger

	registry     prometheus.Registerer
	healthStates sync.Map // map[Kind]HealthStatus
}

// Option configures a Relay.
type Option func(*Relay)

// WithUsage sets where successful usage is recorded.
func WithUsage(u UsageRecorder) Option {
	return func(r *Relay) { r.usage = u }
}

// WithRegistry registers provider and breaker metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(r *Relay) { r.registry = reg }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// WithSleep replaces the retry sleep, for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Relay) {
		p := *r.retry.Load()
		p.Sleep = sleep
		r.retry.Store(&p)
	}
}

// NewRelay wires the adapters to routing, retry and breaker settings from
// cfg. It fails when a route the router can produce has no adapter able to
// serve it.
func NewRelay(cfg *config.Config, adapters map[Kind]Adapter, creds CredentialStore, logger *zap.Logger, opts ...Option) (*Relay, error) {
	router, err := NewRouter(cfg.Router)
	if err != nil {
		return nil, err
	}
	if err := router.Check(adapters); err != nil {
		return nil, err
	}

	r := &Relay{
		adapters: adapters,
		breakers: make(map[Kind]*circuitbreaker.CircuitBreaker, len(adapters)),
		creds:    creds,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	r.router.Store(router)
	policy := NewRetryPolicy(cfg.Retry)
	r.retry.Store(&policy)

	for _, opt := range opts {
		opt(r)
	}

	r.metrics = NewMetrics(r.registry)
	breakerMetrics := circuitbreaker.NewMetrics(r.registry)
	for kind := range adapters {
		r.breakers[kind] = circuitbreaker.NewCircuitBreaker(string(kind), cfg.CircuitBreaker, breakerMetrics,
			logger.With(zap.String("provider", string(kind))),
			circuitbreaker.WithFailureFilter(errors.IsUpstream))
	}
	return r, nil
}

// NewAdapters builds the three production adapters from cfg. Each family
// gets its own transport client so timeouts can differ.
func NewAdapters(cfg *config.Config, logger *zap.Logger) map[Kind]Adapter {
	clientFor := func(p config.ProviderConfig) *transport.Client {
		return transport.NewClient(logger, transport.WithTimeout(p.Timeout))
	}
	media := NewMediaFetcher(transport.NewClient(logger, transport.WithTimeout(cfg.Media.Timeout)), cfg.Media.MaxBytes)

	return map[Kind]Adapter{
		KindOpenAI:     NewOpenAIAdapter(cfg.Providers.OpenAI, clientFor(cfg.Providers.OpenAI), logger),
		KindAnthropic:  NewAnthropicAdapter(cfg.Providers.Anthropic, clientFor(cfg.Providers.Anthropic), media, logger),
		KindOpenRouter: NewOpenRouterAdapter(cfg.Providers.OpenRouter, clientFor(cfg.Providers.OpenRouter), logger),
	}
}

// Update applies reloadable settings: routing rules, retry policy and, if
// the store supports it, credentials. Adapters and breakers are kept.
func (r *Relay) Update(cfg *config.Config) error {
	router, err := NewRouter(cfg.Router)
	if err != nil {
		return err
	}
	if err := router.Check(r.adapters); err != nil {
		return err
	}

	policy := NewRetryPolicy(cfg.Retry)
	policy.Sleep = r.retry.Load().Sleep
	r.router.Store(router)
	r.retry.Store(&policy)

	if u, ok := r.creds.(interface{ Update(config.CredentialsConfig) }); ok {
		u.Update(cfg.Credentials)
	}
	r.logger.Info("relay settings reloaded",
		zap.Int("max_retries", policy.MaxRetries),
		zap.Duration("retry_step", policy.Step))
	return nil
}

// Route exposes the routing decision for model.
func (r *Relay) Route(model string) Route {
	return r.router.Load().Route(model)
}

// Complete runs one turn for req. The request is snapshotted first, so the
// caller may reuse it. requestID correlates logs and errors; a new one is
// generated when empty. Every failure is reported in Result.Error.
func (r *Relay) Complete(ctx context.Context, requestID string, req *chat.Request) chat.Result {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	snapshot := req.Clone()
	route := r.router.Load().Route(snapshot.Model)

	adapter, ok := r.adapters[route.Kind]
	if !ok || !adapter.Capabilities().Covers(route.Mutations.Requires()) {
		// NewRelay and Update reject routers that can produce such a route.
		panic(fmt.Sprintf("provider: no capable adapter for %s route of model %q", route.Kind, snapshot.Model))
	}
	caps := adapter.Capabilities()
	meta := chat.Meta{
		Provider:           string(route.Kind),
		Model:              route.Model,
		RequestID:          requestID,
		ReasoningSupported: caps.ReasoningChannel,
	}
	logger := r.logger.With(
		zap.String("request_id", requestID),
		zap.String("user", snapshot.User),
		zap.String("provider", string(route.Kind)),
		zap.String("model", route.Model),
	)

	apiKey, ok := r.creds.Lookup(snapshot.User, route.Kind)
	if !ok {
		res := chat.Failure(errors.NewMissingCredentialError(string(route.Kind)).WithRequestID(requestID))
		res.Meta = meta
		r.metrics.errors.WithLabelValues(string(route.Kind), string(res.Error.Type)).Inc()
		logger.Info("no credential for provider")
		return res
	}

	call := Call{
		Request:   snapshot,
		Route:     route,
		Tooling:   r.filterTooling(snapshot.Tooling, route.Kind, caps, logger),
		APIKey:    apiKey,
		RequestID: requestID,
	}

	ctx, span := r.tracer.Start(ctx, "provider.complete", trace.WithAttributes(
		attribute.String("relay.provider", string(route.Kind)),
		attribute.String("relay.model", route.Model),
		attribute.String("relay.request_id", requestID),
	))
	defer span.End()

	start := time.Now()
	res, attempts := r.dispatch(ctx, call, logger)
	latency := time.Since(start)

	meta.Attempts = attempts
	res.Meta = meta
	if res.Error != nil {
		res.Error = res.Error.WithRequestID(requestID)
	}

	r.metrics.requestLatency.WithLabelValues(string(route.Kind)).Observe(latency.Seconds())
	r.metrics.attempts.WithLabelValues(string(route.Kind)).Observe(float64(attempts))
	r.recordOutcome(route.Kind, latency, res.Error)
	span.SetAttributes(attribute.Int("relay.attempts", attempts))

	if !res.OK() {
		r.metrics.errors.WithLabelValues(string(route.Kind), string(res.Error.Type)).Inc()
		span.SetStatus(codes.Error, res.Error.Message)
		span.SetAttributes(attribute.String("relay.error_type", string(res.Error.Type)))
		errors.LogError(logger, res.Error, requestID)
		return res
	}

	span.SetAttributes(
		attribute.Int64("relay.input_tokens", res.Usage.InputTokens),
		attribute.Int64("relay.output_tokens", res.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "")
	r.account(call, res.Usage, logger)

	logger.Info("turn completed",
		zap.Int("attempts", attempts),
		zap.Duration("latency", latency),
		zap.Int64("input_tokens", res.Usage.InputTokens),
		zap.Int64("output_tokens", res.Usage.OutputTokens))
	return res
}

// dispatch runs the retry loop inside the provider's breaker. The whole
// turn counts as one breaker outcome, and only failures of the provider
// itself count against it; errors caused by the request or the user's key
// leave the breaker alone.
func (r *Relay) dispatch(ctx context.Context, call Call, logger *zap.Logger) (chat.Result, int) {
	var (
		res      chat.Result
		attempts int
	)
	policy := r.retry.Load()
	adapter := r.adapters[call.Route.Kind]

	err := r.breakers[call.Route.Kind].Execute(func() error {
		res, attempts = policy.Do(func(attempt int) chat.Result {
			out := adapter.Send(ctx, call)
			if out.Error != nil && out.Error.Retryable() {
				logger.Warn("transient provider failure",
					zap.Int("attempt", attempt),
					zap.String("message", out.Error.Message))
			}
			return out
		})
		if res.Error != nil {
			return res.Error
		}
		return nil
	})
	if err == circuitbreaker.ErrCircuitOpen {
		return chat.Failure(errors.NewTerminalError(
			fmt.Sprintf("%s is unavailable after repeated failures; try again shortly", call.Route.Kind), nil)), 0
	}
	return res, attempts
}

// filterTooling drops tools the adapter cannot provide. The turn goes ahead
// without them.
func (r *Relay) filterTooling(want chat.Tooling, kind Kind, caps Capabilities, logger *zap.Logger) chat.Tooling {
	if want.WebSearch && !caps.WebSearch {
		logger.Info("web search not supported by provider; continuing without it")
		r.metrics.droppedTooling.WithLabelValues(string(kind), "web_search").Inc()
		want.WebSearch = false
	}
	return want
}

func (r *Relay) account(call Call, u chat.Usage, logger *zap.Logger) {
	r.metrics.tokens.WithLabelValues(string(call.Route.Kind), "input").Add(float64(u.InputTokens))
	r.metrics.tokens.WithLabelValues(string(call.Route.Kind), "output").Add(float64(u.OutputTokens))
	if r.usage == nil {
		return
	}
	if err := r.usage.Record(call.Request.User, call.UsageScope(), u); err != nil {
		logger.Error("failed to record usage", zap.Error(err))
	}
}

// Transcribe converts audio to text with the user's OpenAI key.
func (r *Relay) Transcribe(ctx context.Context, requestID, user, filename string, audio io.Reader) (string, *errors.RelayError) {
	t, ok := r.adapters[KindOpenAI].(Transcriber)
	if !ok {
		return "", errors.NewInternalError(requestID, ErrNoTranscriber)
	}
	apiKey, ok := r.creds.Lookup(user, KindOpenAI)
	if !ok {
		return "", errors.NewMissingCredentialError(string(KindOpenAI)).WithRequestID(requestID)
	}

	ctx, span := r.tracer.Start(ctx, "provider.transcribe", trace.WithAttributes(
		attribute.String("relay.request_id", requestID),
	))
	defer span.End()

	text, rerr := t.Transcribe(ctx, apiKey, filename, audio)
	if rerr != nil {
		span.SetStatus(codes.Error, rerr.Message)
		r.metrics.errors.WithLabelValues(string(KindOpenAI), string(rerr.Type)).Inc()
		return "", rerr.WithRequestID(requestID)
	}
	return text, nil
}
