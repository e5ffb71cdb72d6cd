package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aaronlmathis/kaptn-insight/internal/service"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// Metric view handlers

// serveView answers the singular route when a member is present, and the
// plural route otherwise. Cluster has a single aggregated member.
func serveView[T any](
	s *Server,
	w http.ResponseWriter,
	r *http.Request,
	one func(context.Context, timeseries.Scope, string, timeseries.RangeQuery) (T, error),
	all func(context.Context, timeseries.Scope, timeseries.RangeQuery) (service.Page[T], error),
) {
	scope, err := timeseries.ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		s.respondError(w, r, &badRequestError{err: err})
		return
	}
	q, err := parseRangeQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	member := chi.URLParam(r, "member")
	if member != "" || scope == timeseries.ScopeCluster {
		out, err := one(r.Context(), scope, member, q)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	page, err := all(r.Context(), scope, q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.Raw, m.RawAll)
}

func (s *Server) handleRawSummary(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.Summary, m.SummaryAll)
}

func (s *Server) handleRawEfficiency(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.Efficiency, m.EfficiencyAll)
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.Cost, m.CostAll)
}

func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.CostSummary, m.CostSummaryAll)
}

func (s *Server) handleCostTrend(w http.ResponseWriter, r *http.Request) {
	m := s.services.Metrics
	serveView(s, w, r, m.CostTrend, m.CostTrendAll)
}
