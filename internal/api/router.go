package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/onnwee/bentofeed/internal/middleware"
)

// RouterConfig wires handlers and middleware into the HTTP router.
// Optional fields may be left nil.
type RouterConfig struct {
	Feed      *FeedHandlers
	Overrides *OverrideHandlers
	Health    *HealthHandlers

	// Metrics serves GET /metrics.
	Metrics     http.Handler
	HTTPMetrics *middleware.Metrics

	// RateLimitStore enables per-client-IP limits on /feed and /admin routes.
	RateLimitStore middleware.RateLimitStore
	FeedLimit      middleware.RateLimitConfig
	AdminLimit     middleware.RateLimitConfig

	// TracingService enables OpenTelemetry server spans when non-empty.
	TracingService string

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	Logger *slog.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Viewer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))
	if cfg.TracingService != "" {
		r.Use(middleware.Tracing(cfg.TracingService))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(middleware.HTTPMetrics(cfg.HTTPMetrics))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/health/ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	limit := func(group string, rl middleware.RateLimitConfig) func(http.Handler) http.Handler {
		if cfg.RateLimitStore == nil || rl.Validate() != nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RateLimiter(cfg.RateLimitStore, rl, group, middleware.ClientIPKey, cfg.HTTPMetrics, logger)
	}

	if cfg.Feed != nil {
		r.With(limit("feed", cfg.FeedLimit)).Get("/feed", cfg.Feed.GetFeed)
	}

	r.Route("/admin/bento", func(r chi.Router) {
		r.Use(limit("admin", cfg.AdminLimit))
		if cfg.Feed != nil {
			r.Get("/debug", cfg.Feed.GetDebug)
		}
		if cfg.Overrides != nil {
			r.Put("/order", cfg.Overrides.Reorder)
			r.Post("/move", cfg.Overrides.Move)
			r.Put("/posts/{id}/size", cfg.Overrides.SetSize)
		}
	})

	return r
}
