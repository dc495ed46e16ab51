package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/events"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// FeedService provides feed lifecycle operations.
type FeedService interface {
	// CreateFeed registers a feed for the owner and requests its first
	// refresh. Returns store.ErrDuplicate if the owner already follows
	// the URL.
	CreateFeed(ctx context.Context, ownerID uuid.UUID, url, title string, interval time.Duration) (*domain.Feed, error)

	// GetFeed retrieves a feed by ID, enforcing ownership.
	// Returns store.ErrFeedNotFound or ErrNotOwned.
	GetFeed(ctx context.Context, ownerID, feedID uuid.UUID) (*domain.Feed, error)

	// ListArticles returns the feed's articles with their stage statuses.
	ListArticles(ctx context.Context, ownerID, feedID uuid.UUID) ([]*domain.Article, error)

	// DeleteFeed removes a feed and withdraws any pending refresh for it.
	// In-flight pipeline work for the feed discards its own results once
	// it notices the feed is gone.
	DeleteFeed(ctx context.Context, ownerID, feedID uuid.UUID) error
}

type feedService struct {
	feeds    store.FeedStore
	articles store.ArticleStore
	jobs     queue.JobStore
	emitter  events.EventEmitter
	logger   *slog.Logger
}

// NewFeedService creates a FeedService over the given stores and emitter.
func NewFeedService(feeds store.FeedStore, articles store.ArticleStore, jobs queue.JobStore, emitter events.EventEmitter, log *slog.Logger) FeedService {
	if log == nil {
		log = slog.Default()
	}
	return &feedService{
		feeds:    feeds,
		articles: articles,
		jobs:     jobs,
		emitter:  emitter,
		logger:   log.With(slog.String("component", "feed_service")),
	}
}

func (s *feedService) CreateFeed(ctx context.Context, ownerID uuid.UUID, url, title string, interval time.Duration) (*domain.Feed, error) {
	feed, err := domain.NewFeed(ownerID, url)
	if err != nil {
		return nil, err
	}
	feed.Title = title
	feed.RefreshInterval = interval

	if err := s.feeds.Create(ctx, feed); err != nil {
		if store.IsDuplicateError(err) || errors.Is(err, store.ErrInvalidEntity) {
			return nil, err
		}
		return nil, NewFeedServiceError("create", "failed to store feed", err)
	}

	// First refresh runs as soon as a worker is free.
	event, err := events.NewTaskRequestEvent(string(queue.QueueRefresh), string(pipeline.KindRefreshFeed), pipeline.RefreshPayload{FeedID: feed.ID})
	if err != nil {
		return nil, NewFeedServiceError("create", "failed to build refresh event", err)
	}
	event.WithDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		// The feed exists; the scheduler's due scan will pick it up even
		// though the initial refresh request was lost.
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to request initial refresh",
			slog.String("feed_id", feed.ID.String()),
			slog.String("error", err.Error()))
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("feed created",
		slog.String("feed_id", feed.ID.String()),
		slog.String("owner_id", ownerID.String()))
	return feed, nil
}

func (s *feedService) GetFeed(ctx context.Context, ownerID, feedID uuid.UUID) (*domain.Feed, error) {
	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, err
		}
		return nil, NewFeedServiceError("get", "failed to load feed", err)
	}
	if feed.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	return feed, nil
}

func (s *feedService) ListArticles(ctx context.Context, ownerID, feedID uuid.UUID) ([]*domain.Article, error) {
	if _, err := s.GetFeed(ctx, ownerID, feedID); err != nil {
		return nil, err
	}
	articles, err := s.articles.ListByFeed(ctx, feedID)
	if err != nil {
		return nil, NewFeedServiceError("list_articles", "failed to list articles", err)
	}
	return articles, nil
}

func (s *feedService) DeleteFeed(ctx context.Context, ownerID, feedID uuid.UUID) error {
	if _, err := s.GetFeed(ctx, ownerID, feedID); err != nil {
		return err
	}
	if err := s.feeds.Delete(ctx, feedID); err != nil {
		if store.IsNotFoundError(err) {
			return err
		}
		return NewFeedServiceError("delete", "failed to delete feed", err)
	}

	// Withdraw the pending refresh, if any; a missing job just means the
	// feed had nothing scheduled.
	if err := s.jobs.Cancel(ctx, pipeline.RefreshDedupeKey(feedID)); err != nil && !store.IsNotFoundError(err) {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to cancel pending refresh",
			slog.String("feed_id", feedID.String()),
			slog.String("error", err.Error()))
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("feed deleted",
		slog.String("feed_id", feedID.String()),
		slog.String("owner_id", ownerID.String()))
	return nil
}
