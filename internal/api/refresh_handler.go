package api

import (
	"log/slog"
	"net/http"

	"github.com/mjarrett/feedforge/internal/api/shared"
	"github.com/mjarrett/feedforge/internal/service"
)

// RefreshHandler serves the refresh control endpoints.
type RefreshHandler struct {
	refreshService service.RefreshService
	logger         *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(refreshService service.RefreshService, log *slog.Logger) *RefreshHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RefreshHandler{
		refreshService: refreshService,
		logger:         log.With(slog.String("component", "refresh_handler")),
	}
}

// RefreshNow handles POST /feeds/{id}/refresh. The request is accepted,
// not executed inline: a worker picks it up with elevated priority.
func (h *RefreshHandler) RefreshNow(w http.ResponseWriter, r *http.Request) {
	ownerID, feedID, ok := requireOwnerAndFeedID(w, r)
	if !ok {
		return
	}

	if err := h.refreshService.RefreshNow(r.Context(), ownerID, feedID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, RefreshAcceptedResponse{FeedID: feedID, Accepted: true})
}

// CancelRefresh handles DELETE /feeds/{id}/refresh.
func (h *RefreshHandler) CancelRefresh(w http.ResponseWriter, r *http.Request) {
	ownerID, feedID, ok := requireOwnerAndFeedID(w, r)
	if !ok {
		return
	}

	if err := h.refreshService.CancelRefresh(r.Context(), ownerID, feedID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
