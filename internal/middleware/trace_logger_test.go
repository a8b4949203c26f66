package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestWithTraceLogger_PropagatesRequestID(t *testing.T) {
	base := zaptest.NewLogger(t)
	var seen *zap.Logger
	h := WithTraceLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = LoggerFromRequest(r, nil)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected handler status to pass through, got %d", rec.Code)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if seen == nil {
		t.Fatalf("expected a request-scoped logger in context")
	}
}

func TestWithTraceLogger_GeneratesRequestID(t *testing.T) {
	h := WithTraceLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestLoggerFromContext_Fallback(t *testing.T) {
	fallback := zap.NewNop()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := LoggerFromRequest(req, fallback); got != fallback {
		t.Fatalf("expected fallback logger without middleware")
	}
}
