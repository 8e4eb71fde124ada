package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type (
	requestIDKey struct{}
	viewerIDKey  struct{}
)

// Header names read or written by the middleware.
const (
	RequestIDHeader = "X-Request-ID"
	ViewerIDHeader  = "X-Viewer-ID"
)

// maxHeaderIDLen caps caller-supplied identifiers.
const maxHeaderIDLen = 128

// RequestID injects a request ID into the context and the response header.
// A well-formed incoming X-Request-ID is reused; otherwise a UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := cleanID(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID from context. Returns empty string if not present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Viewer stores the X-Viewer-ID header in the context. Authentication is
// upstream; a missing or malformed header means an anonymous viewer.
func Viewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := cleanID(r.Header.Get(ViewerIDHeader)); id != "" {
			r = r.WithContext(SetViewerID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// SetViewerID stores the viewer ID in the context.
func SetViewerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, viewerIDKey{}, id)
}

// GetViewerID returns the viewer ID from context, or "" for anonymous viewers.
func GetViewerID(ctx context.Context) string {
	if id, ok := ctx.Value(viewerIDKey{}).(string); ok {
		return id
	}
	return ""
}

// cleanID trims s and rejects values that are too long or contain
// whitespace or control characters.
func cleanID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxHeaderIDLen {
		return ""
	}
	for _, c := range s {
		if c <= ' ' || c == 0x7f {
			return ""
		}
	}
	return s
}
