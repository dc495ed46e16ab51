// Package status tracks per-entity pipeline progress through tri-state
// stage flags and provides the compensatory scan that finds entities
// stalled between stages. The scan is the engine's self-healing path: if
// a fan-out message is lost, the periodic scan eventually notices the
// entity with a succeeded prerequisite and an unset stage, and re-enqueues
// it. Failed entities are deliberately skipped; failures stay sticky until
// explicit intervention.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/redact"
	"github.com/mjarrett/feedforge/internal/store"
)

// Tracker writes stage flags and runs compensatory scans over the two
// tracked entity kinds.
type Tracker struct {
	articles store.ArticleStore
	repos    store.RepoStore
	logger   *slog.Logger
}

// NewTracker creates a Tracker over the given entity stores.
func NewTracker(articles store.ArticleStore, repos store.RepoStore, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		articles: articles,
		repos:    repos,
		logger:   log.With(slog.String("component", "status_tracker")),
	}
}

// MarkArticle records the outcome of one stage for an article. Failures
// carry a sanitized, bounded error string on the entity.
func (t *Tracker) MarkArticle(ctx context.Context, id uuid.UUID, stage domain.Stage, ok bool, cause error) error {
	return t.mark(ctx, "article", id, stage, ok, cause, t.articles.MarkStage)
}

// MarkRepo records the outcome of one stage for a repo.
func (t *Tracker) MarkRepo(ctx context.Context, id uuid.UUID, stage domain.Stage, ok bool, cause error) error {
	return t.mark(ctx, "repo", id, stage, ok, cause, t.repos.MarkStage)
}

type markFn func(ctx context.Context, id uuid.UUID, stage domain.Stage, status domain.StageStatus, at time.Time, lastError string) error

func (t *Tracker) mark(ctx context.Context, entity string, id uuid.UUID, stage domain.Stage, ok bool, cause error, write markFn) error {
	log := logger.FromContextOrDefault(ctx, t.logger)

	result := domain.StageSucceeded
	lastError := ""
	if !ok {
		result = domain.StageFailed
		lastError = redact.Error(cause)
	}

	if err := write(ctx, id, stage, result, time.Now().UTC(), lastError); err != nil {
		return fmt.Errorf("failed to mark %s stage: %w", entity, err)
	}

	log.Debug("stage marked",
		slog.String("entity", entity),
		slog.String("entity_id", id.String()),
		slog.String("stage", string(stage)),
		slog.Bool("success", ok))
	return nil
}

// ScanPendingArticles returns articles eligible for the given stage that
// were never attempted: prerequisite succeeded, stage unset, oldest first.
func (t *Tracker) ScanPendingArticles(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	ids, err := t.articles.ScanPending(ctx, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending articles: %w", err)
	}
	return ids, nil
}

// ScanPendingRepos returns repos eligible for the given stage that were
// never attempted.
func (t *Tracker) ScanPendingRepos(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	ids, err := t.repos.ScanPending(ctx, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending repos: %w", err)
	}
	return ids, nil
}
