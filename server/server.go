// Package server assembles the relay service: configuration with hot
// reload, the provider relay, usage persistence, middleware and routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/handlers"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/routing"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/telemetry"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/usage"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/validation"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     atomic.Pointer[routing.Router]
	config     atomic.Pointer[config.Config]
	watcher    config.Watcher
	updates    <-chan *config.Config
	logger     *zap.Logger

	relay     *provider.Relay
	metrics   *metrics.Metrics
	auth      *middleware.Authenticator
	limiter   *middleware.RateLimiter
	queue     *middleware.QueueMiddleware
	validator *validation.Validator
	handlers  map[string]http.Handler

	closeUsage     func() error
	shutdownTracer telemetry.ShutdownFunc

	done     chan struct{}
	stopOnce sync.Once
}

// NewServer loads the config file, watches it for changes and builds the
// production provider adapters.
func NewServer(configPath string, logger *zap.Logger) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, err
	}
	adapters := provider.NewAdapters(watcher.GetCurrentConfig(), logger)
	s, err := NewServerWithConfig(watcher, adapters, logger)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithConfig builds a server from a watcher and a set of adapters.
// Tests pass mock adapters here.
func NewServerWithConfig(watcher config.Watcher, adapters map[provider.Kind]provider.Adapter, logger *zap.Logger) (*Server, error) {
	cfg := watcher.GetCurrentConfig()

	shutdownTracer, err := telemetry.Setup(context.Background(), cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	store, closeUsage, err := usage.NewStore(cfg.Usage, logger)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	m := metrics.NewMetrics()
	relay, err := provider.NewRelay(cfg, adapters, provider.NewConfigCredentials(cfg.Credentials), logger,
		provider.WithUsage(usage.NewAccountant(store, logger)),
		provider.WithRegistry(m.Registry()),
	)
	if err != nil {
		_ = closeUsage()
		_ = shutdownTracer(context.Background())
		return nil, fmt.Errorf("create relay: %w", err)
	}

	s := &Server{
		watcher:        watcher,
		updates:        watcher.Subscribe(),
		logger:         logger,
		relay:          relay,
		metrics:        m,
		auth:           middleware.NewAuthenticator(cfg.Server.APIKeys),
		limiter:        middleware.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.Every, m),
		validator:      validation.NewValidator(cfg.Server.MaxContextTokens, logger),
		closeUsage:     closeUsage,
		shutdownTracer: shutdownTracer,
		done:           make(chan struct{}),
	}
	s.queue = middleware.NewQueueMiddleware(middleware.QueueConfig{
		InitialSize:  cfg.Queue.InitialSize,
		Workers:      cfg.Queue.Workers,
		Metrics:      m,
		StatePath:    cfg.Queue.StatePath,
		SaveInterval: cfg.Queue.SaveInterval,
	})
	s.handlers = map[string]http.Handler{
		"chat":          handlers.NewChatHandler(relay, s.validator, logger),
		"transcription": handlers.NewTranscriptionHandler(relay, logger),
		"usage":         handlers.NewUsageHandler(store, logger),
	}
	s.config.Store(cfg)
	s.router.Store(s.buildRouter(cfg))

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go s.watchConfig()
	return s, nil
}

// buildRouter mounts the configured routes. Rate limiting and the queue are
// pass-through when disabled, so route configs need not change with them.
func (s *Server) buildRouter(cfg *config.Config) *routing.Router {
	passthrough := func(next http.Handler) http.Handler { return next }

	mw := map[string]routing.Middleware{
		"auth":      s.auth.Handler,
		"validate":  s.validator.Middleware,
		"ratelimit": passthrough,
		"queue":     passthrough,
	}
	if cfg.RateLimit.Enabled {
		mw["ratelimit"] = s.limiter.Handler
	}
	var queue handlers.QueueReporter
	if cfg.Queue.Enabled {
		mw["queue"] = s.queue.Handler
		queue = s.queue
	}

	return routing.NewRouter(cfg, s.handlers, routing.Options{
		Middleware: mw,
		Metrics:    s.metrics,
		Health:     handlers.NewHealthHandler(s.relay, queue, s.logger),
	}, s.logger)
}

// ServeHTTP implements http.Handler using the current router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.Load().ServeHTTP(w, r)
}

func (s *Server) watchConfig() {
	for {
		select {
		case cfg, ok := <-s.updates:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		case <-s.done:
			return
		}
	}
}

// applyConfig swaps in reloadable settings. A config the relay rejects is
// ignored as a whole. Port and timeouts of the listener need a restart.
func (s *Server) applyConfig(cfg *config.Config) {
	if err := s.relay.Update(cfg); err != nil {
		s.logger.Error("rejected config update", zap.Error(err))
		return
	}

	s.auth.Update(cfg.Server.APIKeys)
	s.limiter.Update(cfg.RateLimit.Burst, cfg.RateLimit.Every)
	s.validator.SetMaxContextTokens(cfg.Server.MaxContextTokens)
	s.queue.SetMaxSize(cfg.Queue.InitialSize)
	s.queue.SetWorkers(cfg.Queue.Workers)

	s.router.Store(s.buildRouter(cfg))
	if old := s.config.Swap(cfg); old.Server.Port != cfg.Server.Port {
		s.logger.Warn("server.port changed; restart to apply",
			zap.Int("current", old.Server.Port),
			zap.Int("configured", cfg.Server.Port))
	}
	s.logger.Info("configuration applied", zap.Int("routes", len(cfg.Routes)))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("Server started", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errChan:
		_ = s.Shutdown()
		return err
	}
}

// Shutdown stops accepting requests, drains in-flight and queued turns,
// then flushes usage counters and pending spans.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down server")
		close(s.done)

		timeout := s.config.Load().Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if e := s.httpServer.Shutdown(ctx); e != nil {
			err = fmt.Errorf("error during server shutdown: %w", e)
		}
		if e := s.queue.Shutdown(ctx); e != nil {
			s.logger.Warn("queue did not drain", zap.Error(e))
		}
		if e := s.closeUsage(); e != nil {
			s.logger.Error("failed to flush usage", zap.Error(e))
			if err == nil {
				err = e
			}
		}
		if e := s.watcher.Close(); e != nil {
			s.logger.Warn("failed to close config watcher", zap.Error(e))
		}
		if e := s.shutdownTracer(ctx); e != nil {
			s.logger.Warn("failed to flush traces", zap.Error(e))
		}
	})
	return err
}
