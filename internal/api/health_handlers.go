package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/bentofeed/internal/health"
)

// readyTimeout bounds all readiness checks together.
const readyTimeout = 3 * time.Second

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checkers map[string]health.Checker
	logger   *slog.Logger
}

// NewHealthHandlers creates probe handlers. checkers maps a dependency name
// (database, redis) to its checker; nil entries are reported as not
// configured.
func NewHealthHandlers(checkers map[string]health.Checker, logger *slog.Logger) *HealthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandlers{checkers: checkers, logger: logger}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. If we can respond, we're alive.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /health/ready. It returns 503 when any configured
// dependency fails its check.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := health.Run(ctx, h.checkers, readyTimeout)

	for name, c := range h.checkers {
		if c == nil {
			report.Checks[name] = "not_configured"
		}
	}
	for _, f := range report.Failures {
		h.logger.WarnContext(ctx, "readiness check failed", "check", f.Name, "error", f.Err)
	}

	status, code := "healthy", http.StatusOK
	if !report.Healthy() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, ctx, code, HealthResponse{
		Status:    status,
		Checks:    report.Checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
