package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/api/v1/system/status", "/api/v1/system/status"},
		{"/api/v1/metrics/pod/raw", "/api/v1/metrics/pod/raw"},
		{"/api/v1/metrics/pod/raw/summary/", "/api/v1/metrics/pod/raw/summary"},
		{"/api/v1/metrics/namespace/cost/trend", "/api/v1/metrics/namespace/cost/trend"},
		{"/api/v1/metrics/pod/3f2a-uid/raw", "/api/v1/metrics/pod/:member/raw"},
		{"/api/v1/metrics/container/3f2a-uid-app/cost/summary", "/api/v1/metrics/container/:member/cost/summary"},
		{"/api/v1/metrics/namespace/billing/raw/efficiency", "/api/v1/metrics/namespace/:member/raw/efficiency"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizePath(tt.path))
		})
	}
}

func TestRequestIDResponseMiddleware(t *testing.T) {
	h := middleware.RequestID(RequestIDResponseMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSanitizeErrorMessage(t *testing.T) {
	es := NewErrorSanitizer(zaptest.NewLogger(t))

	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{
			name:   "client errors pass through",
			err:    errors.New("granularity must be one of minute, hour, day: got \"week\""),
			status: http.StatusBadRequest,
			want:   "granularity must be one of minute, hour, day: got \"week\"",
		},
		{
			name:   "database detail hidden",
			err:    errors.New("failed to query samples: sql: database is locked"),
			status: http.StatusInternalServerError,
			want:   "An internal server error occurred. Please try again later.",
		},
		{
			name:   "paths hidden",
			err:    errors.New("open /var/lib/insight.db: permission denied"),
			status: http.StatusInternalServerError,
			want:   "An internal server error occurred. Please try again later.",
		},
		{
			name:   "stale state kept",
			err:    errors.New("runtime state not resynchronized (never discovered)"),
			status: http.StatusServiceUnavailable,
			want:   "runtime state not resynchronized (never discovered)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, es.sanitizeErrorMessage(tt.err.Error(), tt.status))
		})
	}
}

func TestSanitizeAndRespond(t *testing.T) {
	es := NewErrorSanitizer(zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	es.SanitizeAndRespond(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/pod/raw", nil), errors.New("boom from the sqlite driver"), http.StatusInternalServerError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"An internal server error occurred. Please try again later.","status":500}`, rec.Body.String())
}
