package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	ViewerID  string `json:"viewer_id"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feed", nil))

	entry := parseEntry(t, buf)
	if entry.Method != http.MethodGet || entry.Path != "/feed" {
		t.Errorf("unexpected method/path %s %s", entry.Method, entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != 5 {
		t.Errorf("expected size 5, got %d", entry.Size)
	}
	if entry.Level != "INFO" || entry.Msg != "request completed" {
		t.Errorf("unexpected level/msg %s %q", entry.Level, entry.Msg)
	}
}

func TestLogging_RequestAndViewerIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Viewer(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	req.Header.Set(ViewerIDHeader, "viewer-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseEntry(t, buf)
	if entry.RequestID != "req-42" {
		t.Errorf("request_id = %q", entry.RequestID)
	}
	if entry.ViewerID != "viewer-7" {
		t.Errorf("viewer_id = %q", entry.ViewerID)
	}
}

func TestLogging_ErrorCodeAndLevel(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		wantLevel string
		wantCode  string
	}{
		{"client error", http.StatusNotFound, "not_found", "WARN", "not_found"},
		{"server error", http.StatusInternalServerError, "internal_error", "ERROR", "internal_error"},
		{"success ignores code", http.StatusOK, "ignored", "INFO", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// The code is set on the handler's context, which Logging never sees
				// directly.
				SetErrorCode(r.Context(), tt.code)
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/admin/bento/order", nil))

			entry := parseEntry(t, buf)
			if entry.Level != tt.wantLevel {
				t.Errorf("level = %s, want %s", entry.Level, tt.wantLevel)
			}
			if entry.ErrorCode != tt.wantCode {
				t.Errorf("error_code = %q, want %q", entry.ErrorCode, tt.wantCode)
			}
		})
	}
}

func TestSetErrorCode_WithoutLogging(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if GetErrorCode(req.Context()) != "" {
		t.Fatal("expected empty code")
	}
	ctx := SetErrorCode(req.Context(), "validation_error")
	if got := GetErrorCode(ctx); got != "validation_error" {
		t.Errorf("GetErrorCode = %q", got)
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)
	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusAccepted || rr.Code != http.StatusAccepted {
		t.Errorf("status = %d/%d, want 202", rw.statusCode, rr.Code)
	}
}

func TestNewLogger(t *testing.T) {
	if _, ok := NewLogger("production").Handler().(*slog.JSONHandler); !ok {
		t.Error("production logger should use JSON handler")
	}
	if _, ok := NewLogger("development").Handler().(*slog.TextHandler); !ok {
		t.Error("development logger should use text handler")
	}
}
