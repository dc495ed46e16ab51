package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/events"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// RefreshService lets callers pull a feed's next refresh forward or
// withdraw it.
type RefreshService interface {
	// RefreshNow requests an immediate refresh of the feed with elevated
	// priority. Thanks to the stable dedupe key this replaces any refresh
	// already scheduled for later instead of stacking a second one.
	// Returns store.ErrFeedNotFound or ErrNotOwned.
	RefreshNow(ctx context.Context, ownerID, feedID uuid.UUID) error

	// CancelRefresh withdraws the feed's pending refresh. A refresh that
	// already started cannot be cancelled; its lease and tasks run out on
	// their own. Returns ErrNoPendingRefresh when nothing is pending.
	CancelRefresh(ctx context.Context, ownerID, feedID uuid.UUID) error
}

// RefreshServiceError is a custom error type for refresh service errors.
type RefreshServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for RefreshServiceError.
func (e *RefreshServiceError) Error() string {
	if e.Err != nil {
		return "refresh service " + e.Operation + " failed: " + e.Message + ": " + e.Err.Error()
	}
	return "refresh service " + e.Operation + " failed: " + e.Message
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RefreshServiceError) Unwrap() error {
	return e.Err
}

type refreshService struct {
	feeds   store.FeedStore
	jobs    queue.JobStore
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewRefreshService creates a RefreshService.
func NewRefreshService(feeds store.FeedStore, jobs queue.JobStore, emitter events.EventEmitter, log *slog.Logger) RefreshService {
	if log == nil {
		log = slog.Default()
	}
	return &refreshService{
		feeds:   feeds,
		jobs:    jobs,
		emitter: emitter,
		logger:  log.With(slog.String("component", "refresh_service")),
	}
}

func (s *refreshService) RefreshNow(ctx context.Context, ownerID, feedID uuid.UUID) error {
	if err := s.checkOwnership(ctx, ownerID, feedID); err != nil {
		return err
	}

	event, err := events.NewTaskRequestEvent(string(queue.QueueRefresh), string(pipeline.KindRefreshFeed), pipeline.RefreshPayload{FeedID: feedID})
	if err != nil {
		return &RefreshServiceError{Operation: "refresh_now", Message: "failed to build event", Err: err}
	}
	event.WithPriority(queue.PriorityElevated).WithDedupeKey(pipeline.RefreshDedupeKey(feedID))
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		return &RefreshServiceError{Operation: "refresh_now", Message: "failed to emit event", Err: err}
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("immediate refresh requested",
		slog.String("feed_id", feedID.String()))
	return nil
}

func (s *refreshService) CancelRefresh(ctx context.Context, ownerID, feedID uuid.UUID) error {
	if err := s.checkOwnership(ctx, ownerID, feedID); err != nil {
		return err
	}

	err := s.jobs.Cancel(ctx, pipeline.RefreshDedupeKey(feedID))
	if store.IsNotFoundError(err) {
		return ErrNoPendingRefresh
	}
	if err != nil {
		return &RefreshServiceError{Operation: "cancel", Message: "failed to cancel pending refresh", Err: err}
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("pending refresh cancelled",
		slog.String("feed_id", feedID.String()))
	return nil
}

func (s *refreshService) checkOwnership(ctx context.Context, ownerID, feedID uuid.UUID) error {
	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return err
		}
		return &RefreshServiceError{Operation: "load", Message: "failed to load feed", Err: err}
	}
	if feed.OwnerID != ownerID {
		return ErrNotOwned
	}
	return nil
}
