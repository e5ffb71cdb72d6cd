package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/schedule"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// maxBodyBytes bounds request bodies on write routes.
const maxBodyBytes = 8 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.services.Store.GetCurrentPrices(r.Context())
	if errors.Is(err, cost.ErrNoPrices) {
		s.respondError(w, r, &cost.PricingUnavailableError{Err: err})
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// handlePutPrices replaces the unit price table. Cached cost views are
// dropped so the next read uses the new prices.
func (s *Server) handlePutPrices(w http.ResponseWriter, r *http.Request) {
	var prices cost.UnitPriceTable
	if err := decodeBody(w, r, &prices); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := prices.Validate(); err != nil {
		s.respondError(w, r, &badRequestError{err: err})
		return
	}

	stored, err := s.services.Store.PutPrices(r.Context(), prices)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.services.Metrics.Cache().Clear()

	s.logger.Info("Unit prices updated",
		zap.Float64("cpuCoreHour", stored.CPUCoreHour),
		zap.Float64("memoryGBHour", stored.MemoryGBHour),
		zap.Float64("storageGBHour", stored.StorageGBHour),
		zap.Float64("networkEgressGB", stored.NetworkEgressGB))
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetRetention(w http.ResponseWriter, r *http.Request) {
	settings, err := s.services.Store.GetRetention(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutRetention(w http.ResponseWriter, r *http.Request) {
	var settings schedule.RetentionSettings
	if err := decodeBody(w, r, &settings); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := settings.Validate(); err != nil {
		s.respondError(w, r, &badRequestError{err: err})
		return
	}
	if err := s.services.Store.PutRetention(r.Context(), settings); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type ingestRequest struct {
	Granularity timeseries.Granularity    `json:"granularity"`
	Series      []timeseries.MetricSeries `json:"series"`
}

// handleIngest writes pushed samples into the store. Re-sending a point
// replaces it, so retries are safe.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	g, err := timeseries.ParseGranularity(string(req.Granularity))
	if err != nil || g == "" {
		s.respondError(w, r, badRequest("granularity must be one of minute, hour, day"))
		return
	}
	for _, series := range req.Series {
		if _, err := timeseries.ParseScope(string(series.Scope)); err != nil {
			s.respondError(w, r, &badRequestError{err: err})
			return
		}
		if series.Key == "" {
			s.respondError(w, r, badRequest("series key must not be empty"))
			return
		}
	}

	n, err := s.services.Store.Insert(r.Context(), g, req.Series...)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.services.Metrics.Cache().Clear()

	writeJSON(w, http.StatusOK, map[string]int{"inserted": n})
}
