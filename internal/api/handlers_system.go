package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-insight/internal/runtimestate"
)

type statusResponse struct {
	runtimestate.Status
	Source string `json:"source"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: s.services.Coordinator.Status(),
		Source: s.services.Source.Name(),
	})
}

// handleResync starts a background topology refresh. A request made while
// one is in flight is answered immediately and nothing is queued.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	result := s.services.Coordinator.Resync()

	s.logger.Info("Resync requested",
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.String("result", string(result)))

	status := http.StatusAccepted
	if result == runtimestate.ResyncAlreadyRunning {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"resync": string(result)})
}

// handleRunJob runs a scheduled job synchronously under the request context.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")
	ctx := r.Context()

	s.logger.Info("Manual job run requested",
		zap.String("requestId", middleware.GetReqID(ctx)),
		zap.String("job", job))

	var (
		result interface{}
		err    error
	)
	switch job {
	case "hourly":
		err = s.services.Scheduler.RunHourly(ctx)
	case "daily":
		err = s.services.Scheduler.RunDaily(ctx)
	case "retention":
		result, err = s.services.Sweeper.Sweep(ctx)
	default:
		s.errors.SanitizeAndRespond(w, r, badRequest("unknown job %q", job), http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":    job,
		"status": "completed",
		"result": result,
	})
}
