package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORSConfig configures cross-origin access for the browser grid renderer
// and the editor UI.
type CORSConfig struct {
	AllowedOrigins []string // exact origins, no wildcards
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int // preflight cache, seconds
}

// DefaultCORSConfig returns the settings for the feed and editor routes with
// the given origins.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader, ViewerIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         600,
	}
}

const originForbiddenBody = `{"error":{"code":"forbidden","message":"Origin not allowed"}}`

// CORS answers preflight requests and sets CORS headers for allowed origins
// using go-chi/cors. With no origins configured it passes every request
// through untouched. Requests without an Origin header pass; a foreign origin
// gets 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" && origin != "*" {
			allowed[origin] = true
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	handler := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: cfg.AllowedMethods,
		AllowedHeaders: cfg.AllowedHeaders,
		ExposedHeaders: cfg.ExposedHeaders,
		MaxAge:         cfg.MaxAge,
	})

	return func(next http.Handler) http.Handler {
		withCORS := handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && !allowed[origin] {
				SetErrorCode(r.Context(), "forbidden")
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(originForbiddenBody))
				return
			}
			withCORS.ServeHTTP(w, r)
		})
	}
}
