package api

import (
	"errors"
	"net/http"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/runtimestate"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries/aggregator"
)

// respondError maps domain errors onto HTTP responses. An empty member set
// and an unsupported view are terminal answers, not failures.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stale       *runtimestate.StaleStateError
		noMembers   *aggregator.NoMembersError
		unsupported *aggregator.UnsupportedViewError
		pricing     *cost.PricingUnavailableError
		bad         *badRequestError
	)

	switch {
	case errors.As(err, &noMembers):
		writeJSON(w, http.StatusOK, map[string]string{"status": "no data"})
	case errors.As(err, &unsupported):
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_supported"})
	case errors.As(err, &stale):
		w.Header().Set("Retry-After", "30")
		s.errors.SanitizeAndRespond(w, r, err, http.StatusServiceUnavailable)
	case errors.As(err, &pricing):
		s.errors.SanitizeAndRespond(w, r, err, http.StatusServiceUnavailable)
	case errors.As(err, &bad):
		s.errors.SanitizeAndRespond(w, r, err, http.StatusBadRequest)
	default:
		s.errors.SanitizeAndRespond(w, r, err, http.StatusInternalServerError)
	}
}
