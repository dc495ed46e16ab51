package api

import (
	"log/slog"
	"net/http"

	"github.com/mjarrett/feedforge/internal/api/shared"
	"github.com/mjarrett/feedforge/internal/queue"
)

// InFlightFunc reports how many task handlers are currently executing.
type InFlightFunc func() int64

// HealthHandler serves GET /healthz with queue depths and worker load.
type HealthHandler struct {
	jobs     queue.JobStore
	inFlight InFlightFunc
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. inFlight may be nil when no
// runner lives in this process.
func NewHealthHandler(jobs queue.JobStore, inFlight InFlightFunc, log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		jobs:     jobs,
		inFlight: inFlight,
		logger:   log.With(slog.String("component", "health_handler")),
	}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	depths, err := h.jobs.Depth(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Queue backend unavailable", err)
		return
	}

	resp := HealthResponse{
		Status: "ok",
		Queues: make(map[string]QueueHealth, len(depths)),
	}
	for name, depth := range depths {
		resp.Queues[string(name)] = QueueHealth{
			Pending: depth.Pending,
			Running: depth.Running,
			Dead:    depth.Dead,
		}
	}
	if h.inFlight != nil {
		resp.InFlight = h.inFlight()
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
