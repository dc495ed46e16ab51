package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
)

// Common request/response structures

// CreateFeedRequest defines the payload for registering a feed.
type CreateFeedRequest struct {
	URL   string `json:"url"   validate:"required,url"`
	Title string `json:"title" validate:"max=500"`

	// RefreshIntervalSeconds overrides the engine default when positive.
	RefreshIntervalSeconds int `json:"refresh_interval_seconds" validate:"gte=0"`
}

// FeedResponse is the API representation of a feed.
type FeedResponse struct {
	ID              uuid.UUID  `json:"id"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	RefreshInterval string     `json:"refresh_interval,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewFeedResponse builds a FeedResponse from a domain feed.
func NewFeedResponse(feed *domain.Feed) FeedResponse {
	resp := FeedResponse{
		ID:              feed.ID,
		URL:             feed.URL,
		Title:           feed.Title,
		LastRefreshedAt: feed.LastRefreshedAt,
		LastError:       feed.LastError,
		CreatedAt:       feed.CreatedAt,
	}
	if feed.RefreshInterval > 0 {
		resp.RefreshInterval = feed.RefreshInterval.String()
	}
	return resp
}

// ArticleResponse is the API representation of an article with its
// per-stage processing status.
type ArticleResponse struct {
	ID          uuid.UUID `json:"id"`
	GUID        string    `json:"guid"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	MediaStatus string    `json:"media_status"`
	IndexStatus string    `json:"index_status"`
	LinksStatus string    `json:"links_status"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewArticleResponse builds an ArticleResponse from a domain article.
// Unset stage statuses are rendered as "pending".
func NewArticleResponse(article *domain.Article) ArticleResponse {
	return ArticleResponse{
		ID:          article.ID,
		GUID:        article.GUID,
		URL:         article.URL,
		Title:       article.Title,
		MediaStatus: stageStatusLabel(article.MediaStatus),
		IndexStatus: stageStatusLabel(article.IndexStatus),
		LinksStatus: stageStatusLabel(article.LinksStatus),
		LastError:   article.LastError,
		CreatedAt:   article.CreatedAt,
	}
}

func stageStatusLabel(s domain.StageStatus) string {
	if s == domain.StageUnset {
		return "pending"
	}
	return string(s)
}

// RefreshAcceptedResponse acknowledges an accepted refresh request.
type RefreshAcceptedResponse struct {
	FeedID   uuid.UUID `json:"feed_id"`
	Accepted bool      `json:"accepted"`
}

// HealthResponse reports engine liveness and queue pressure.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Queues   map[string]QueueHealth `json:"queues"`
	InFlight int64                  `json:"in_flight"`
}

// QueueHealth is the per-queue slice of a health response.
type QueueHealth struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Dead    int `json:"dead"`
}
