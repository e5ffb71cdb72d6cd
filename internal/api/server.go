package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/app"
	"github.com/aaronlmathis/kaptn-insight/internal/config"
	appmiddleware "github.com/aaronlmathis/kaptn-insight/internal/middleware"
	"github.com/aaronlmathis/kaptn-insight/internal/version"
)

// Server represents the API server
type Server struct {
	logger   *zap.Logger
	config   *config.Config
	router   chi.Router
	services *app.Services
	errors   *appmiddleware.ErrorSanitizer
}

// NewServer creates a new API server over already built services.
func NewServer(logger *zap.Logger, cfg *config.Config, services *app.Services) *Server {
	s := &Server{
		logger:   logger,
		config:   cfg,
		router:   chi.NewRouter(),
		services: services,
		errors:   appmiddleware.NewErrorSanitizer(logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmiddleware.RequestIDResponseMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(appmiddleware.PrometheusMiddleware)
	s.router.Use(middleware.Timeout(config.Duration(s.config.Server.RequestTimeout, 60*time.Second)))

	s.router.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.Server.CORS.AllowOrigins,
		AllowedMethods: s.config.Server.CORS.AllowMethods,
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"message": "Kaptn Insight API v1",
				"status":  "ready",
			})
		})

		// Plural routes list one result per member; cluster answers with the
		// aggregated series. Singular routes carry the member in the path.
		r.Route("/metrics/{scope}", func(r chi.Router) {
			r.Get("/raw", s.handleRaw)
			r.Get("/raw/summary", s.handleRawSummary)
			r.Get("/raw/efficiency", s.handleRawEfficiency)
			r.Get("/cost", s.handleCost)
			r.Get("/cost/summary", s.handleCostSummary)
			r.Get("/cost/trend", s.handleCostTrend)

			r.Get("/{member}/raw", s.handleRaw)
			r.Get("/{member}/raw/summary", s.handleRawSummary)
			r.Get("/{member}/raw/efficiency", s.handleRawEfficiency)
			r.Get("/{member}/cost", s.handleCost)
			r.Get("/{member}/cost/summary", s.handleCostSummary)
			r.Get("/{member}/cost/trend", s.handleCostTrend)
		})

		r.Get("/system/status", s.handleStatus)
		r.Post("/system/resync", s.handleResync)
		r.Post("/system/jobs/{job}", s.handleRunJob)

		r.Get("/settings/prices", s.handleGetPrices)
		r.Put("/settings/prices", s.handlePutPrices)
		r.Get("/settings/retention", s.handleGetRetention)
		r.Put("/settings/retention", s.handlePutRetention)

		r.Post("/ingest", s.handleIngest)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once the sample store answers. Topology
// freshness is reported but does not gate readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.services.Store.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"fresh":  s.services.State.IsFresh(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
