// Package routing builds the relay's HTTP routes from configuration. It
// implements versioned API routing and per-route middleware chosen by name.
package routing

import (
	"fmt"
	"net/http"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/metrics"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Middleware wraps a handler.
type Middleware = func(http.Handler) http.Handler

// Options carries what the router mounts besides the configured routes.
type Options struct {
	// Middleware maps the names used in route configs to implementations
	Middleware map[string]Middleware

	// Metrics enables request metrics and the /metrics endpoint
	Metrics *metrics.Metrics

	// Health is served at /health
	Health http.Handler
}

// Router handles dynamic HTTP routing with versioning.
// It provides:
// - Version-based routing (v1, v2, etc.)
// - Named per-route middleware
// - Method restrictions
type Router struct {
	router   chi.Router
	handlers map[string]http.Handler
	opts     Options
	logger   *zap.Logger
	cfg      *config.Config
}

// NewRouter creates a router with the global middleware stack and every
// route in cfg. Routes naming an unknown handler are skipped and logged.
func NewRouter(cfg *config.Config, handlers map[string]http.Handler, opts Options, logger *zap.Logger) *Router {
	r := &Router{
		router:   chi.NewRouter(),
		handlers: handlers,
		opts:     opts,
		logger:   logger,
		cfg:      cfg,
	}

	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RequestTimer)
	r.router.Use(middleware.Recovery(logger))
	r.router.Use(middleware.Logging(logger))
	if opts.Metrics != nil {
		r.router.Use(middleware.PrometheusMetrics(opts.Metrics))
	}
	r.router.Use(middleware.CORS)

	r.router.NotFound(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.NotFoundError, "route not found",
			http.StatusNotFound, middleware.GetRequestID(req.Context()), nil, nil))
	})
	r.router.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		errors.WriteError(w, errors.NewError(errors.ValidationError, "method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(req.Context()),
			map[string]interface{}{"method": req.Method}, nil))
	})

	r.setupRoutes()
	return r
}

// setupRoutes mounts each configured route under its version prefix with
// its middleware applied in the listed order.
func (r *Router) setupRoutes() {
	for _, route := range r.cfg.Routes {
		handler, ok := r.handlers[route.Handler]
		if !ok {
			r.logger.Error("handler not found", zap.String("handler", route.Handler))
			continue
		}

		path := route.Path
		if route.Version != "" {
			path = fmt.Sprintf("/%s%s", route.Version, path)
		}

		r.router.Group(func(router chi.Router) {
			for _, name := range route.Middleware {
				mw, ok := r.opts.Middleware[name]
				if !ok {
					r.logger.Warn("unknown middleware requested",
						zap.String("middleware", name),
						zap.String("route", path))
					continue
				}
				router.Use(mw)
			}

			methods := route.Methods
			if len(methods) == 0 {
				methods = []string{http.MethodGet}
			}
			for _, method := range methods {
				router.Method(method, path, handler)
			}
		})
	}

	if r.opts.Health != nil {
		r.router.Method(http.MethodGet, "/health", r.opts.Health)
	}
	if r.opts.Metrics != nil {
		RegisterMetricsRoutes(r.router, r.opts.Metrics)
	}
}

// ServeHTTP implements the http.Handler interface.
// Delegates request handling to the underlying Chi router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
