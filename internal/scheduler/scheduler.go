// Package scheduler arms the engine's periodic work: it groups due feeds
// into per-owner batch refreshes, schedules star syncs, and runs the
// compensatory scans that re-enqueue stalled pipeline stages. Every tick
// runs under a short-TTL lease so that in a multi-process deployment only
// one scheduler arms work, while a crashed holder is replaced within one
// lease TTL.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/lease"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/status"
	"github.com/mjarrett/feedforge/internal/store"
)

// tickKey is the lease key serializing scheduler ticks across processes.
const tickKey = "tick"

// Config holds the scheduler's tunables.
type Config struct {
	// TickInterval is how often the scheduler wakes up. The tick lease
	// TTL is derived from it and kept below it, so a crashed holder's
	// lease expires before the next tick elsewhere.
	TickInterval time.Duration

	// DefaultRefreshInterval applies to feeds without their own interval.
	DefaultRefreshInterval time.Duration

	// StarSyncInterval is how often each owner's starred repositories
	// are re-synced.
	StarSyncInterval time.Duration

	// ScanBatchLimit bounds how many stalled entities each compensatory
	// scan re-enqueues per tick.
	ScanBatchLimit int

	// ListLimit bounds how many due feeds one tick picks up.
	ListLimit int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:           time.Minute,
		DefaultRefreshInterval: time.Hour,
		StarSyncInterval:       6 * time.Hour,
		ScanBatchLimit:         100,
		ListLimit:              500,
	}
}

// Scheduler periodically arms batch refreshes, star syncs and rescue
// tasks. It holds no durable state of its own: everything it produces is
// deduplicated in the queue, so overlapping or restarted schedulers only
// ever replace pending work, never duplicate it.
type Scheduler struct {
	feeds      store.FeedStore
	jobs       queue.JobStore
	tracker    *status.Tracker
	leases     *lease.Manager
	cfg        Config
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// lastStarSync is per-process bookkeeping; the dedupe key keeps
	// concurrent schedulers from double-arming an owner regardless.
	lastStarSync map[uuid.UUID]time.Time
}

// New creates a Scheduler. The lease manager is expected to carry the
// "scheduler" scope.
func New(feeds store.FeedStore, jobs queue.JobStore, tracker *status.Tracker, leases *lease.Manager, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		feeds:        feeds,
		jobs:         jobs,
		tracker:      tracker,
		leases:       leases,
		cfg:          cfg,
		logger:       log.With(slog.String("component", "scheduler")),
		ctx:          ctx,
		cancelFunc:   cancel,
		lastStarSync: make(map[uuid.UUID]time.Time),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Duration("star_sync_interval", s.cfg.StarSyncInterval))
}

// Stop gracefully shuts the scheduler down, waiting for a running tick.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.Tick(s.ctx, time.Now().UTC())
	}
}

// Tick performs one scheduling pass. Exported so the composition root can
// run an immediate pass at startup; concurrent callers are serialized by
// the tick lease.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	token := lease.NewToken()
	if !s.leases.Acquire(ctx, tickKey, token, s.leaseTTL()) {
		s.logger.Debug("tick lease held elsewhere, skipping pass")
		return
	}
	defer s.leases.Release(ctx, tickKey, token)

	if err := s.armBatchRefreshes(ctx, now); err != nil {
		s.logger.Error("failed to arm batch refreshes", "error", err)
	}
	if err := s.armStarSyncs(ctx, now); err != nil {
		s.logger.Error("failed to arm star syncs", "error", err)
	}
	s.runRescueScans(ctx)
}

// leaseTTL keeps the tick lease strictly shorter than the tick period.
func (s *Scheduler) leaseTTL() time.Duration {
	return s.cfg.TickInterval / 2
}

// armBatchRefreshes groups due feeds by owner and enqueues one batch
// refresh per owner. The per-owner dedupe key replaces any still-pending
// batch instead of stacking a second one.
func (s *Scheduler) armBatchRefreshes(ctx context.Context, now time.Time) error {
	due, err := s.feeds.ListDue(ctx, now, s.cfg.DefaultRefreshInterval, s.cfg.ListLimit)
	if err != nil {
		return fmt.Errorf("failed to list due feeds: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	byOwner := make(map[uuid.UUID][]uuid.UUID)
	for _, feed := range due {
		byOwner[feed.OwnerID] = append(byOwner[feed.OwnerID], feed.ID)
	}

	for ownerID, feedIDs := range byOwner {
		payload := pipeline.BatchRefreshPayload{OwnerID: ownerID, FeedIDs: feedIDs}
		job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindBatchRefresh, payload, 0)
		if err != nil {
			return err
		}
		job.WithDedupeKey(pipeline.BatchDedupeKey(ownerID))
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue batch refresh: %w", err)
		}
		s.logger.Info("batch refresh armed",
			slog.String("owner_id", ownerID.String()),
			slog.Int("feed_count", len(feedIDs)))
	}
	return nil
}

// armStarSyncs enqueues a star sync for every owner whose last sync is
// older than the configured interval.
func (s *Scheduler) armStarSyncs(ctx context.Context, now time.Time) error {
	if s.cfg.StarSyncInterval <= 0 {
		return nil
	}

	owners, err := s.feeds.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}

	for _, ownerID := range owners {
		if last, ok := s.lastStarSync[ownerID]; ok && now.Sub(last) < s.cfg.StarSyncInterval {
			continue
		}
		job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindSyncStars, pipeline.SyncStarsPayload{OwnerID: ownerID}, 0)
		if err != nil {
			return err
		}
		job.WithDedupeKey(pipeline.StarSyncDedupeKey(ownerID))
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue star sync: %w", err)
		}
		s.lastStarSync[ownerID] = now
		s.logger.Info("star sync armed", slog.String("owner_id", ownerID.String()))
	}
	return nil
}

// runRescueScans finds entities stuck with an unset stage whose
// prerequisite already succeeded (for example after a crash between
// acknowledgement and fan-out) and re-enqueues the missing stage task.
// Rescue tasks carry no chord; their results are dropped and the next
// scan picks up whatever stage follows.
func (s *Scheduler) runRescueScans(ctx context.Context) {
	for _, stage := range []domain.Stage{domain.StageMedia, domain.StageIndex, domain.StageLinks} {
		ids, err := s.tracker.ScanPendingArticles(ctx, stage, s.cfg.ScanBatchLimit)
		if err != nil {
			s.logger.Error("article rescue scan failed", "stage", string(stage), "error", err)
			continue
		}
		s.enqueueRescues(ctx, "article", stage, articleStageKind(stage), ids)
	}

	for _, stage := range []domain.Stage{domain.StageIndex, domain.StageLinks} {
		ids, err := s.tracker.ScanPendingRepos(ctx, stage, s.cfg.ScanBatchLimit)
		if err != nil {
			s.logger.Error("repo rescue scan failed", "stage", string(stage), "error", err)
			continue
		}
		s.enqueueRescues(ctx, "repo", stage, repoStageKind(stage), ids)
	}
}

func (s *Scheduler) enqueueRescues(ctx context.Context, entity string, stage domain.Stage, kind queue.Kind, ids []uuid.UUID) {
	for _, id := range ids {
		job, err := queue.NewJob(queue.QueuePipeline, kind, pipeline.StagePayload{EntityID: id}, 0)
		if err != nil {
			s.logger.Error("failed to build rescue task", "error", err)
			return
		}
		job.WithDedupeKey(fmt.Sprintf("rescue:%s:%s:%s", entity, stage, id))
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to enqueue rescue task", "error", err)
			return
		}
	}
	if len(ids) > 0 {
		s.logger.Info("stalled entities re-enqueued",
			slog.String("entity", entity),
			slog.String("stage", string(stage)),
			slog.Int("count", len(ids)))
	}
}

func articleStageKind(stage domain.Stage) queue.Kind {
	switch stage {
	case domain.StageMedia:
		return pipeline.KindProcessMedia
	case domain.StageIndex:
		return pipeline.KindIndexArticle
	default:
		return pipeline.KindExtractLinks
	}
}

func repoStageKind(stage domain.Stage) queue.Kind {
	if stage == domain.StageIndex {
		return pipeline.KindIndexRepo
	}
	return pipeline.KindExtractRepoLinks
}
