// Package pipeline implements the fan-out/fan-in refresh orchestrator:
// multi-stage processing of fetched items (media, semantic index, cross
// references) coordinated through durable queue tasks and chord barriers.
// Each stage fans out one task per item and fans in through a chord whose
// callback starts the next stage over the successful items only.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/ingest"
	"github.com/mjarrett/feedforge/internal/lease"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/ratelimit"
	"github.com/mjarrett/feedforge/internal/redact"
	"github.com/mjarrett/feedforge/internal/status"
	"github.com/mjarrett/feedforge/internal/store"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// LeaseTTL bounds how long a fetch holds its per-feed (or per-owner)
	// lease before a crashed worker's lease expires on its own.
	LeaseTTL time.Duration

	// RateMaxWait bounds how long a fetch waits for its host's rate
	// window before giving up as a retryable timeout.
	RateMaxWait time.Duration

	// DefaultRefreshInterval re-arms feeds that carry no interval of
	// their own.
	DefaultRefreshInterval time.Duration
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Feeds    store.FeedStore
	Articles store.ArticleStore
	Repos    store.RepoStore
	Jobs     queue.JobStore
	Chords   *Coordinator
	Tracker  *status.Tracker
	Ingest   *ingest.Engine

	// FeedLeases serializes refreshes per feed, StarLeases per owner.
	FeedLeases *lease.Manager
	StarLeases *lease.Manager
	Limiter    *ratelimit.Limiter

	Fetcher ContentFetcher
	Media   MediaProcessor
	Indexer SemanticIndexer
	Links   CrossRefExtractor
	Stars   StarSource
}

// Orchestrator owns the refresh task handlers. It is stateless between
// tasks; all flow state lives in the queue and the chord store.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator. The logger may be nil, in which case the
// process default is used.
func New(deps Deps, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: log.With(slog.String("component", "pipeline")),
	}
}

// RegisterHandlers installs every pipeline task kind into the registry.
func (o *Orchestrator) RegisterHandlers(r *queue.Registry) {
	r.MustRegister(KindRefreshFeed, o.handleRefreshFeed)
	r.MustRegister(KindBatchRefresh, o.handleBatchRefresh)
	r.MustRegister(KindFetchFeed, o.handleFetchFeed)
	r.MustRegister(KindSyncStars, o.handleSyncStars)

	r.MustRegister(KindProcessMedia, o.handleProcessMedia)
	r.MustRegister(KindIndexArticle, o.handleIndexArticle)
	r.MustRegister(KindExtractLinks, o.handleExtractLinks)
	r.MustRegister(KindIndexRepo, o.handleIndexRepo)
	r.MustRegister(KindExtractRepoLinks, o.handleExtractRepoLinks)

	r.MustRegister(KindFetchDone, o.handleFetchDone)
	r.MustRegister(KindMediaDone, o.handleMediaDone)
	r.MustRegister(KindIndexDone, o.handleIndexDone)
	r.MustRegister(KindLinksDone, o.handleLinksDone)
	r.MustRegister(KindRepoIndexDone, o.handleRepoIndexDone)
	r.MustRegister(KindRepoLinksDone, o.handleRepoLinksDone)
}

// fanOut opens a chord over ids and enqueues one stage task per id. An
// empty id set skips the barrier and enqueues the callback directly with
// an empty result set, so the flow's terminal logic always runs.
func (o *Orchestrator) fanOut(ctx context.Context, stageKind, callbackKind queue.Kind, fctx flowCtx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		raw, err := json.Marshal(fctx)
		if err != nil {
			return queue.Permanent(fmt.Errorf("failed to marshal flow context: %w", err))
		}
		job, err := queue.NewJob(queue.QueuePipeline, callbackKind, CallbackEnvelope{Ctx: raw}, 0)
		if err != nil {
			return queue.Permanent(err)
		}
		if err := o.deps.Jobs.Enqueue(ctx, job); err != nil {
			return queue.Retryable(fmt.Errorf("failed to enqueue %s: %w", callbackKind, err))
		}
		return nil
	}

	chordID, err := o.deps.Chords.Open(ctx, len(ids), callbackKind, fctx)
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to open chord: %w", err))
	}
	for _, id := range ids {
		job, err := queue.NewJob(queue.QueuePipeline, stageKind, StagePayload{EntityID: id, ChordID: chordID}, 0)
		if err != nil {
			return queue.Permanent(err)
		}
		if err := o.deps.Jobs.Enqueue(ctx, job); err != nil {
			return queue.Retryable(fmt.Errorf("failed to enqueue %s: %w", stageKind, err))
		}
	}
	return nil
}

// report routes one stage result into its chord. Rescue tasks carry no
// chord and their results are dropped. A missing chord means the group
// already completed (a redelivered task racing its own earlier report);
// that result is dropped too.
func (o *Orchestrator) report(ctx context.Context, chordID uuid.UUID, result Result) error {
	if chordID == uuid.Nil {
		return nil
	}
	err := o.deps.Chords.Report(ctx, chordID, result)
	if errors.Is(err, store.ErrChordNotFound) {
		logger.FromContextOrDefault(ctx, o.logger).Debug("chord already completed, dropping result",
			slog.String("chord_id", chordID.String()),
			slog.String("entity_id", result.EntityID.String()))
		return nil
	}
	if err != nil {
		return queue.Retryable(err)
	}
	return nil
}

// rescheduleFeed re-arms an immediate-mode feed after its flow finishes.
// The stable dedupe key keeps at most one pending refresh per feed.
func (o *Orchestrator) rescheduleFeed(ctx context.Context, feedID uuid.UUID) error {
	feed, err := o.deps.Feeds.GetByID(ctx, feedID)
	if errors.Is(err, store.ErrFeedNotFound) {
		logger.FromContextOrDefault(ctx, o.logger).Info("feed deleted, not rescheduling",
			slog.String("feed_id", feedID.String()))
		return nil
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to load feed for reschedule: %w", err))
	}

	interval := feed.RefreshInterval
	if interval <= 0 {
		interval = o.cfg.DefaultRefreshInterval
	}
	job, err := queue.NewJob(queue.QueueRefresh, KindRefreshFeed, RefreshPayload{FeedID: feed.ID}, interval)
	if err != nil {
		return queue.Permanent(err)
	}
	job.WithDedupeKey(RefreshDedupeKey(feed.ID))
	if err := o.deps.Jobs.Enqueue(ctx, job); err != nil {
		return queue.Retryable(fmt.Errorf("failed to reschedule feed: %w", err))
	}
	return nil
}

// decodeFlow unpacks a chord callback payload.
func decodeFlow(job *queue.Job) (CallbackEnvelope, flowCtx, error) {
	var env CallbackEnvelope
	if err := job.UnmarshalPayload(&env); err != nil {
		return env, flowCtx{}, fmt.Errorf("failed to decode callback envelope: %w", err)
	}
	var fctx flowCtx
	if len(env.Ctx) > 0 {
		if err := json.Unmarshal(env.Ctx, &fctx); err != nil {
			return env, fctx, fmt.Errorf("failed to decode flow context: %w", err)
		}
	}
	return env, fctx, nil
}

// finalAttempt reports whether the current run is the job's last before
// the runner would mark it dead. Barrier members must report on their
// final attempt instead of dying silently, or the chord never closes.
func finalAttempt(job *queue.Job) bool {
	max := job.MaxAttempts
	if max <= 0 {
		max = queue.DefaultRetryPolicy.MaxAttempts
	}
	return job.Attempts+1 >= max
}

// resultErr converts a structured stage failure into an error value for
// the status tracker, bounded the same way task errors are.
func resultErr(message string) error {
	if message == "" {
		return nil
	}
	return errors.New(redact.Truncate(message, redact.MaxErrorLength))
}
