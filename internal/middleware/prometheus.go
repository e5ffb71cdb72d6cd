package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
)

// PrometheusMiddleware records HTTP request metrics for Prometheus
func PrometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		metrics.RecordHTTPRequest(r.Method, sanitizePath(r.URL.Path), ww.Status(), time.Since(start))
	})
}

// RequestIDResponseMiddleware adds the request ID to response headers
func RequestIDResponseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// viewSuffixes are the path segments that follow "raw" or "cost" in the
// plural metric routes.
var viewSuffixes = map[string]bool{
	"summary":    true,
	"efficiency": true,
	"trend":      true,
}

// sanitizePath normalizes URL paths for metrics to prevent cardinality explosion
func sanitizePath(path string) string {
	path = strings.TrimSuffix(path, "/")

	if !strings.HasPrefix(path, "/api/v1/metrics/") {
		return path
	}

	// parts: "", api, v1, metrics, {scope}, ...
	parts := strings.Split(path, "/")
	if len(parts) < 6 {
		return path
	}

	// /api/v1/metrics/{scope}/raw[/summary], /api/v1/metrics/{scope}/cost[/trend]
	head := parts[5]
	if (head == "raw" || head == "cost") && (len(parts) == 6 || (len(parts) == 7 && viewSuffixes[parts[6]])) {
		return path
	}

	// /api/v1/metrics/{scope}/{member}/... -> /api/v1/metrics/{scope}/:member/...
	out := append([]string{}, parts[:5]...)
	out = append(out, ":member")
	out = append(out, parts[6:]...)
	return strings.Join(out, "/")
}
