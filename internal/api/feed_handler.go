package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mjarrett/feedforge/internal/api/shared"
	"github.com/mjarrett/feedforge/internal/service"
)

// FeedHandler serves the feed lifecycle endpoints.
type FeedHandler struct {
	feedService service.FeedService
	logger      *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feedService service.FeedService, log *slog.Logger) *FeedHandler {
	if log == nil {
		log = slog.Default()
	}
	return &FeedHandler{
		feedService: feedService,
		logger:      log.With(slog.String("component", "feed_handler")),
	}
}

// CreateFeed handles POST /feeds.
func (h *FeedHandler) CreateFeed(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := getOwnerIDFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner identity")
		return
	}

	var req CreateFeedRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request", err)
		return
	}

	interval := time.Duration(req.RefreshIntervalSeconds) * time.Second
	feed, err := h.feedService.CreateFeed(r.Context(), ownerID, req.URL, req.Title, interval)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, NewFeedResponse(feed))
}

// GetFeed handles GET /feeds/{id}.
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ownerID, feedID, ok := requireOwnerAndFeedID(w, r)
	if !ok {
		return
	}

	feed, err := h.feedService.GetFeed(r.Context(), ownerID, feedID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewFeedResponse(feed))
}

// ListArticles handles GET /feeds/{id}/articles.
func (h *FeedHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	ownerID, feedID, ok := requireOwnerAndFeedID(w, r)
	if !ok {
		return
	}

	articles, err := h.feedService.ListArticles(r.Context(), ownerID, feedID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := make([]ArticleResponse, 0, len(articles))
	for _, article := range articles {
		resp = append(resp, NewArticleResponse(article))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteFeed handles DELETE /feeds/{id}.
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	ownerID, feedID, ok := requireOwnerAndFeedID(w, r)
	if !ok {
		return
	}

	if err := h.feedService.DeleteFeed(r.Context(), ownerID, feedID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
