package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/ingest"
	"github.com/mjarrett/feedforge/internal/lease"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/ratelimit"
	"github.com/mjarrett/feedforge/internal/redact"
	"github.com/mjarrett/feedforge/internal/store"
)

// handleRefreshFeed runs one immediate-mode refresh: fetch the feed under
// its lease, reconcile the items, then fan the changed articles into the
// media stage. The flow re-arms itself when its last stage callback runs.
func (o *Orchestrator) handleRefreshFeed(ctx context.Context, job *queue.Job) error {
	var p RefreshPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode refresh payload: %w", err))
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("feed_id", p.FeedID.String()))

	feed, err := o.deps.Feeds.GetByID(ctx, p.FeedID)
	if errors.Is(err, store.ErrFeedNotFound) {
		log.Info("feed deleted, dropping refresh")
		return nil
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to load feed: %w", err))
	}

	token := lease.NewToken()
	if !o.deps.FeedLeases.Acquire(ctx, feed.ID.String(), token, o.cfg.LeaseTTL) {
		// Another worker is refreshing this feed; that flow owns the
		// next reschedule, so this task ends without requeue.
		log.Info("feed refresh already in progress, skipping")
		return nil
	}
	defer o.deps.FeedLeases.Release(ctx, feed.ID.String(), token)

	changed, err := o.fetchAndReconcile(ctx, feed)
	if err != nil {
		return err
	}

	log.Info("feed fetched", slog.Int("changed_articles", len(changed)))
	return o.fanOut(ctx, KindProcessMedia, KindMediaDone, flowCtx{Mode: ModeImmediate, FeedID: feed.ID}, changed)
}

// handleBatchRefresh opens an owner-wide barrier over the owner's due
// feeds and fans out one fetch task per feed.
func (o *Orchestrator) handleBatchRefresh(ctx context.Context, job *queue.Job) error {
	var p BatchRefreshPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode batch payload: %w", err))
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("owner_id", p.OwnerID.String()))

	if len(p.FeedIDs) == 0 {
		log.Info("batch refresh with no feeds, nothing to do")
		return nil
	}

	fctx := flowCtx{Mode: ModeBatch, OwnerID: p.OwnerID}
	chordID, err := o.deps.Chords.Open(ctx, len(p.FeedIDs), KindFetchDone, fctx)
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to open fetch chord: %w", err))
	}
	for _, feedID := range p.FeedIDs {
		j, err := queue.NewJob(queue.QueuePipeline, KindFetchFeed, FetchFeedPayload{FeedID: feedID, ChordID: chordID}, 0)
		if err != nil {
			return queue.Permanent(err)
		}
		if err := o.deps.Jobs.Enqueue(ctx, j); err != nil {
			return queue.Retryable(fmt.Errorf("failed to enqueue fetch: %w", err))
		}
	}
	log.Info("batch refresh started", slog.Int("feed_count", len(p.FeedIDs)))
	return nil
}

// handleFetchFeed runs one fetch unit of a batch refresh and reports its
// outcome to the owner's barrier. Every terminal path reports: a fetch
// that died silently would stall the barrier forever.
func (o *Orchestrator) handleFetchFeed(ctx context.Context, job *queue.Job) error {
	var p FetchFeedPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode fetch payload: %w", err))
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("feed_id", p.FeedID.String()))

	feed, err := o.deps.Feeds.GetByID(ctx, p.FeedID)
	if errors.Is(err, store.ErrFeedNotFound) {
		log.Info("feed deleted during batch, reporting failure")
		return o.report(ctx, p.ChordID, Result{EntityID: p.FeedID, OK: false, Err: "feed no longer exists"})
	}
	if err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, p.FeedID, queue.Retryable(fmt.Errorf("failed to load feed: %w", err)))
	}

	token := lease.NewToken()
	if !o.deps.FeedLeases.Acquire(ctx, feed.ID.String(), token, o.cfg.LeaseTTL) {
		log.Info("feed refresh already in progress, reporting skip")
		return o.report(ctx, p.ChordID, Result{EntityID: feed.ID, OK: false, Err: "refresh already in progress"})
	}
	defer o.deps.FeedLeases.Release(ctx, feed.ID.String(), token)

	changed, err := o.fetchAndReconcile(ctx, feed)
	if err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, feed.ID, err)
	}
	return o.report(ctx, p.ChordID, Result{EntityID: feed.ID, OK: true, Produced: changed})
}

// handleSyncStars reconciles an owner's starred repositories under the
// owner lease, then fans the changed repos into the index stage.
func (o *Orchestrator) handleSyncStars(ctx context.Context, job *queue.Job) error {
	var p SyncStarsPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode star sync payload: %w", err))
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With(slog.String("owner_id", p.OwnerID.String()))

	token := lease.NewToken()
	if !o.deps.StarLeases.Acquire(ctx, p.OwnerID.String(), token, o.cfg.LeaseTTL) {
		log.Info("star sync already in progress, skipping")
		return nil
	}
	defer o.deps.StarLeases.Release(ctx, p.OwnerID.String(), token)

	starred, err := o.deps.Stars.ListStarred(ctx, p.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to list starred repos: %w", err)
	}

	var changed []uuid.UUID
	for _, r := range starred {
		out, err := o.deps.Ingest.ReconcileRepo(ctx, ingest.IncomingRepo{
			OwnerID:         p.OwnerID,
			RemoteID:        r.RemoteID,
			FullName:        r.FullName,
			URL:             r.URL,
			Description:     r.Description,
			SourceUpdatedAt: r.UpdatedAt,
		})
		if err != nil {
			log.Warn("repo reconcile failed, skipping item",
				slog.Int64("remote_id", r.RemoteID),
				slog.String("error", redact.Error(err)))
			continue
		}
		if out.Action != ingest.ActionSkip {
			changed = append(changed, out.ID)
		}
	}

	log.Info("stars synced",
		slog.Int("starred", len(starred)),
		slog.Int("changed_repos", len(changed)))
	return o.fanOut(ctx, KindIndexRepo, KindRepoIndexDone, flowCtx{OwnerID: p.OwnerID}, changed)
}

// fetchAndReconcile waits for the feed host's rate window, fetches the
// feed, reconciles every item and stamps the feed's refresh bookkeeping.
// It returns the IDs of articles that were inserted or overwritten.
func (o *Orchestrator) fetchAndReconcile(ctx context.Context, feed *domain.Feed) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	if host := feed.Host(); host != "" {
		if _, err := o.deps.Limiter.WaitForKey(ctx, ratelimit.Key(host), o.cfg.RateMaxWait); err != nil {
			return nil, queue.Retryable(fmt.Errorf("rate window for %s: %w", host, err))
		}
	}

	items, err := o.deps.Fetcher.Fetch(ctx, feed)
	now := time.Now().UTC()
	if err != nil {
		if serr := o.deps.Feeds.SetLastRefreshed(ctx, feed.ID, now, redact.Error(err)); serr != nil {
			log.Warn("failed to record feed error", slog.String("error", serr.Error()))
		}
		return nil, fmt.Errorf("fetch %s: %w", feed.URL, err)
	}

	var changed []uuid.UUID
	for _, item := range items {
		out, rerr := o.deps.Ingest.ReconcileArticle(ctx, ingest.IncomingArticle{
			FeedID:          feed.ID,
			GUID:            item.GUID,
			URL:             item.URL,
			Title:           item.Title,
			Content:         item.Content,
			SourceUpdatedAt: item.UpdatedAt,
		})
		if rerr != nil {
			log.Warn("article reconcile failed, skipping item",
				slog.String("guid", item.GUID),
				slog.String("error", redact.Error(rerr)))
			continue
		}
		if out.Action != ingest.ActionSkip {
			changed = append(changed, out.ID)
		}
	}

	if err := o.deps.Feeds.SetLastRefreshed(ctx, feed.ID, now, ""); err != nil {
		log.Warn("failed to record feed refresh", slog.String("error", err.Error()))
	}
	return changed, nil
}

// retryOrReport lets a retryable task error consume its remaining retry
// budget, but on the final attempt converts it into a barrier report so
// the chord still closes. Every handler that owes a chord a result routes
// its infrastructure errors through here.
func (o *Orchestrator) retryOrReport(ctx context.Context, job *queue.Job, chordID, entityID uuid.UUID, cause error) error {
	if queue.IsRetryable(cause) && !finalAttempt(job) {
		return cause
	}
	return o.report(ctx, chordID, Result{EntityID: entityID, OK: false, Err: redact.Error(cause)})
}
