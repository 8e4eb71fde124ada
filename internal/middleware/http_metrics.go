package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// isUnmeteredPath reports whether path is a probe or scrape endpoint that is
// excluded from request metrics and traces.
func isUnmeteredPath(path string) bool {
	switch path {
	case "/health", "/health/ready", "/metrics":
		return true
	}
	return false
}

// normalizePath maps request paths to route patterns so per-post paths do not
// explode metric cardinality. Unknown paths collapse to "other".
func normalizePath(path string) string {
	switch path {
	case "/feed", "/admin/bento/debug", "/admin/bento/order", "/admin/bento/move",
		"/health", "/health/ready", "/metrics":
		return path
	}

	// /admin/bento/posts/{id}/size
	if rest, ok := strings.CutPrefix(path, "/admin/bento/posts/"); ok {
		if id, suffix, found := strings.Cut(rest, "/"); found && id != "" && suffix == "size" {
			return "/admin/bento/posts/{id}/size"
		}
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// HTTPMetrics records request duration, count and sizes per normalized route.
// Probe and scrape endpoints are skipped.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUnmeteredPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
