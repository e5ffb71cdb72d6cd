package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorSanitizer provides sanitized error responses
type ErrorSanitizer struct {
	logger *zap.Logger
}

// NewErrorSanitizer creates a new error sanitizer
func NewErrorSanitizer(logger *zap.Logger) *ErrorSanitizer {
	return &ErrorSanitizer{
		logger: logger,
	}
}

// SanitizeAndRespond logs err with full detail and writes a JSON error body
// that is safe to show a client.
func (es *ErrorSanitizer) SanitizeAndRespond(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	fields := []zap.Field{
		zap.Error(err),
		zap.Int("status_code", statusCode),
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("remote_addr", r.RemoteAddr),
	}
	if statusCode >= http.StatusInternalServerError {
		es.logger.Error("Request error", fields...)
	} else {
		es.logger.Debug("Request rejected", fields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  es.sanitizeErrorMessage(err.Error(), statusCode),
		"status": statusCode,
	})
}

// sanitizeErrorMessage removes sensitive information from error messages
func (es *ErrorSanitizer) sanitizeErrorMessage(message string, statusCode int) string {
	// Client input errors are returned verbatim so callers can fix the request.
	if statusCode == http.StatusBadRequest || statusCode == http.StatusServiceUnavailable {
		return firstLine(message)
	}

	sensitivePatterns := []string{
		"token", "bearer", "authorization", "secret", "credential", "password",
		"database", "sql", "sqlite", "connection",
		"api-server", "etcd", "kubeconfig",
		"internal", "config",
	}

	messageLower := strings.ToLower(message)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(messageLower, pattern) {
			return es.getGenericErrorMessage(statusCode)
		}
	}

	sanitized := firstLine(message)

	// Remove file paths
	if strings.Contains(sanitized, "/") || strings.Contains(sanitized, "\\") {
		return es.getGenericErrorMessage(statusCode)
	}

	if len(sanitized) > 100 {
		sanitized = sanitized[:100] + "..."
	}

	if len(strings.TrimSpace(sanitized)) < 5 {
		return es.getGenericErrorMessage(statusCode)
	}

	return sanitized
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx != -1 {
		return s[:idx]
	}
	return s
}

// getGenericErrorMessage returns appropriate generic messages based on HTTP status
func (es *ErrorSanitizer) getGenericErrorMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Invalid request. Please check your input and try again."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusMethodNotAllowed:
		return "Method not allowed for this resource."
	case http.StatusUnprocessableEntity:
		return "The request contains invalid data."
	case http.StatusInternalServerError:
		return "An internal server error occurred. Please try again later."
	case http.StatusBadGateway:
		return "The upstream service is unavailable. Please try again later."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	case http.StatusGatewayTimeout:
		return "The request timed out. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
