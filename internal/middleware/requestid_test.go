package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feed", nil))

	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("expected UUID request id, got %q", captured)
	}
	if rr.Header().Get(RequestIDHeader) != captured {
		t.Errorf("response header %q does not match context %q", rr.Header().Get(RequestIDHeader), captured)
	}
}

func TestRequestID_IncomingHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		reuse  bool
	}{
		{"reused", "existing-request-id-123", true},
		{"trimmed", "  abc  ", true},
		{"too long", strings.Repeat("x", maxHeaderIDLen+1), false},
		{"control chars", "bad\nid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			req.Header.Set(RequestIDHeader, tt.header)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if tt.reuse && captured != strings.TrimSpace(tt.header) {
				t.Errorf("expected %q to be reused, got %q", tt.header, captured)
			}
			if !tt.reuse && captured == tt.header {
				t.Errorf("expected %q to be replaced", tt.header)
			}
			if captured == "" {
				t.Error("request id is empty")
			}
		})
	}
}

func TestViewer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"viewer-1", "viewer-1"},
		{"", ""},
		{"has space", ""},
	}

	for _, tt := range tests {
		var got string
		handler := Viewer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetViewerID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/feed", nil)
		if tt.header != "" {
			req.Header.Set(ViewerIDHeader, tt.header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got != tt.want {
			t.Errorf("viewer for header %q = %q, want %q", tt.header, got, tt.want)
		}
	}
}
