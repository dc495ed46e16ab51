package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// Per-item stage handlers. Domain failures (bad media, indexing error)
// are recorded on the entity and reported to the barrier as structured
// results, never returned as task errors: the barrier must always reach
// its expected count. Infrastructure errors propagate for retry, but the
// final attempt is reported as a failed unit so the group still closes.

func (o *Orchestrator) handleProcessMedia(ctx context.Context, job *queue.Job) error {
	return o.articleStage(ctx, job, domain.StageMedia, func(ctx context.Context, a *domain.Article) (bool, string) {
		res := o.deps.Media.Process(ctx, a)
		return res.OK, res.Err
	})
}

func (o *Orchestrator) handleIndexArticle(ctx context.Context, job *queue.Job) error {
	return o.articleStage(ctx, job, domain.StageIndex, func(ctx context.Context, a *domain.Article) (bool, string) {
		res := o.deps.Indexer.Index(ctx, a.ID, a.Content)
		return res.OK, res.Err
	})
}

func (o *Orchestrator) handleExtractLinks(ctx context.Context, job *queue.Job) error {
	return o.articleStage(ctx, job, domain.StageLinks, func(ctx context.Context, a *domain.Article) (bool, string) {
		res := o.deps.Links.Extract(ctx, a.ID, a.Content)
		return res.OK, res.Err
	})
}

func (o *Orchestrator) handleIndexRepo(ctx context.Context, job *queue.Job) error {
	return o.repoStage(ctx, job, domain.StageIndex, func(ctx context.Context, r *domain.Repo) (bool, string) {
		res := o.deps.Indexer.Index(ctx, r.ID, r.FullName+"\n"+r.Description)
		return res.OK, res.Err
	})
}

func (o *Orchestrator) handleExtractRepoLinks(ctx context.Context, job *queue.Job) error {
	return o.repoStage(ctx, job, domain.StageLinks, func(ctx context.Context, r *domain.Repo) (bool, string) {
		res := o.deps.Links.Extract(ctx, r.ID, r.Description)
		return res.OK, res.Err
	})
}

// articleStage loads the article, runs the stage function, records the
// tri-state outcome and reports to the barrier. A deleted article is
// reported as a failed unit rather than resurrected.
func (o *Orchestrator) articleStage(ctx context.Context, job *queue.Job, stage domain.Stage, run func(context.Context, *domain.Article) (bool, string)) error {
	var p StagePayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode stage payload: %w", err))
	}

	article, err := o.deps.Articles.GetByID(ctx, p.EntityID)
	if errors.Is(err, store.ErrArticleNotFound) {
		logger.FromContextOrDefault(ctx, o.logger).Info("article deleted mid-flow, dropping stage",
			slog.String("article_id", p.EntityID.String()),
			slog.String("stage", string(stage)))
		return o.report(ctx, p.ChordID, Result{EntityID: p.EntityID, OK: false, Err: "article no longer exists"})
	}
	if err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, p.EntityID,
			queue.Retryable(fmt.Errorf("failed to load article: %w", err)))
	}

	ok, msg := run(ctx, article)
	if err := o.deps.Tracker.MarkArticle(ctx, article.ID, stage, ok, resultErr(msg)); err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, article.ID,
			queue.Retryable(fmt.Errorf("failed to record %s status: %w", stage, err)))
	}
	return o.report(ctx, p.ChordID, Result{EntityID: article.ID, OK: ok, Err: msg})
}

// repoStage is the repository counterpart of articleStage.
func (o *Orchestrator) repoStage(ctx context.Context, job *queue.Job, stage domain.Stage, run func(context.Context, *domain.Repo) (bool, string)) error {
	var p StagePayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return queue.Permanent(fmt.Errorf("failed to decode stage payload: %w", err))
	}

	repo, err := o.deps.Repos.GetByID(ctx, p.EntityID)
	if errors.Is(err, store.ErrRepoNotFound) {
		logger.FromContextOrDefault(ctx, o.logger).Info("repo deleted mid-flow, dropping stage",
			slog.String("repo_id", p.EntityID.String()),
			slog.String("stage", string(stage)))
		return o.report(ctx, p.ChordID, Result{EntityID: p.EntityID, OK: false, Err: "repo no longer exists"})
	}
	if err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, p.EntityID,
			queue.Retryable(fmt.Errorf("failed to load repo: %w", err)))
	}

	ok, msg := run(ctx, repo)
	if err := o.deps.Tracker.MarkRepo(ctx, repo.ID, stage, ok, resultErr(msg)); err != nil {
		return o.retryOrReport(ctx, job, p.ChordID, p.EntityID,
			queue.Retryable(fmt.Errorf("failed to record %s status: %w", stage, err)))
	}
	return o.report(ctx, p.ChordID, Result{EntityID: repo.ID, OK: ok, Err: msg})
}
