package pipeline

import (
	"context"
	"log/slog"

	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
)

// Chord callbacks. Each closes one stage barrier and fans the successful
// items into the next stage. Failed items keep their failed status and go
// no further: the compensatory scans only pick up items whose stage was
// never attempted, so a failure is sticky until the item is ingested
// again.

// handleFetchDone closes the batch fetch barrier: the articles produced
// by every successful fetch enter the media stage together.
func (o *Orchestrator) handleFetchDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	logger.FromContextOrDefault(ctx, o.logger).Info("batch fetch complete",
		slog.String("owner_id", fctx.OwnerID.String()),
		slog.Int("fetched", len(env.Results)),
		slog.Int("succeeded", len(env.Successes())))
	return o.fanOut(ctx, KindProcessMedia, KindMediaDone, fctx, env.ProducedBySuccesses())
}

func (o *Orchestrator) handleMediaDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	return o.fanOut(ctx, KindIndexArticle, KindIndexDone, fctx, env.Successes())
}

func (o *Orchestrator) handleIndexDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	return o.fanOut(ctx, KindExtractLinks, KindLinksDone, fctx, env.Successes())
}

// handleLinksDone is the terminal callback of a refresh flow. Immediate
// flows re-arm their feed here; batch flows are re-armed by the scheduler
// and only log completion.
func (o *Orchestrator) handleLinksDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	log := logger.FromContextOrDefault(ctx, o.logger)

	switch fctx.Mode {
	case ModeImmediate:
		log.Info("feed refresh flow complete",
			slog.String("feed_id", fctx.FeedID.String()),
			slog.Int("linked", len(env.Successes())))
		return o.rescheduleFeed(ctx, fctx.FeedID)
	case ModeBatch:
		log.Info("batch refresh flow complete",
			slog.String("owner_id", fctx.OwnerID.String()),
			slog.Int("linked", len(env.Successes())))
		return nil
	default:
		log.Warn("links callback with unknown mode", slog.String("mode", string(fctx.Mode)))
		return nil
	}
}

func (o *Orchestrator) handleRepoIndexDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	return o.fanOut(ctx, KindExtractRepoLinks, KindRepoLinksDone, fctx, env.Successes())
}

func (o *Orchestrator) handleRepoLinksDone(ctx context.Context, job *queue.Job) error {
	env, fctx, err := decodeFlow(job)
	if err != nil {
		return queue.Permanent(err)
	}
	logger.FromContextOrDefault(ctx, o.logger).Info("star sync flow complete",
		slog.String("owner_id", fctx.OwnerID.String()),
		slog.Int("linked", len(env.Successes())))
	return nil
}
