// Package ingest implements the upsert/dedup engine: identity-stable
// merging of externally fetched records into the local store. Each record
// is looked up by its natural key (stable across refreshes); the internal
// ID assigned on first sight never changes afterwards, because downstream
// records reference it by foreign key with no cascading rename. Getting
// this wrong silently orphans derived data, so ID stability is the load-
// bearing property of this package.
//
// Reconciliation is a read-then-write sequence, not a single atomic
// statement; callers run it inside the per-feed (or per-owner) lease that
// already serializes refreshes of the same entity set. The one exception
// is the protected-overwrite path: taking new content and clearing the
// dependent stage flags happens in a single transaction, so a crash can
// never leave succeeded flags standing over content they never saw.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/store"
)

// Action describes what reconciliation did with an incoming record.
type Action string

// Possible reconcile actions.
const (
	// ActionInsert means the natural key was new and a record was created.
	ActionInsert Action = "insert"

	// ActionUpdate means an existing record was overwritten in place.
	ActionUpdate Action = "update"

	// ActionSkip means the existing record was left untouched, either
	// because nothing changed or because it is protected.
	ActionSkip Action = "skip"
)

// Outcome reports the action taken and the stable internal ID of the
// record the incoming data now corresponds to.
type Outcome struct {
	Action Action
	ID     uuid.UUID
}

// IncomingArticle carries the fields fetched from a feed for one item.
type IncomingArticle struct {
	FeedID          uuid.UUID
	GUID            string
	URL             string
	Title           string
	Content         string
	SourceUpdatedAt *time.Time
}

// IncomingRepo carries the fields fetched from the hosting platform for
// one starred repository.
type IncomingRepo struct {
	OwnerID         uuid.UUID
	RemoteID        int64
	FullName        string
	URL             string
	Description     string
	SourceUpdatedAt *time.Time
}

// Engine reconciles incoming records against the entity stores.
type Engine struct {
	db       *sql.DB
	articles store.ArticleStore
	repos    store.RepoStore
	logger   *slog.Logger
}

// NewEngine creates a reconcile engine over the given stores. The db
// handle backs the transactional protected-overwrite path; it may be nil
// when the stores are transaction-free (the in-memory implementations).
func NewEngine(db *sql.DB, articles store.ArticleStore, repos store.RepoStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:       db,
		articles: articles,
		repos:    repos,
		logger:   log.With(slog.String("component", "ingest_engine")),
	}
}

// ReconcileArticle merges one fetched item into the article store.
//
// New natural key: insert. Existing and protected (index stage already
// consumed the content): skip, unless the source's updated timestamp
// strictly advanced, in which case the content is overwritten and every
// downstream stage flag is cleared so the pipeline redoes them against the
// fresh content. Existing and unprotected: update in place when anything
// changed, skip otherwise. The internal ID never changes in any branch.
func (e *Engine) ReconcileArticle(ctx context.Context, in IncomingArticle) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	existing, err := e.articles.GetByNaturalKey(ctx, in.FeedID, in.GUID)
	if err != nil {
		if !store.IsNotFoundError(err) {
			return Outcome{}, fmt.Errorf("failed to look up article by natural key: %w", err)
		}

		article, err := domain.NewArticle(in.FeedID, in.GUID, in.URL, in.Title, in.Content)
		if err != nil {
			return Outcome{}, fmt.Errorf("invalid incoming article: %w", err)
		}
		article.SourceUpdatedAt = in.SourceUpdatedAt

		if err := e.articles.Create(ctx, article); err != nil {
			return Outcome{}, fmt.Errorf("failed to insert article: %w", err)
		}

		log.Debug("article inserted",
			slog.String("article_id", article.ID.String()),
			slog.String("guid", in.GUID))
		return Outcome{Action: ActionInsert, ID: article.ID}, nil
	}

	changed := articleChanged(existing, in)
	advanced := sourceAdvanced(existing.SourceUpdatedAt, in.SourceUpdatedAt)

	if existing.Protected() {
		if !advanced {
			return Outcome{Action: ActionSkip, ID: existing.ID}, nil
		}

		// Upstream rewrote content the pipeline already consumed: take
		// the new content and force every dependent stage to redo.
		if err := e.overwriteProtectedArticle(ctx, existing, in); err != nil {
			return Outcome{}, err
		}

		log.Info("protected article overwritten after upstream change",
			slog.String("article_id", existing.ID.String()),
			slog.String("guid", in.GUID))
		return Outcome{Action: ActionUpdate, ID: existing.ID}, nil
	}

	if !changed && !advanced {
		return Outcome{Action: ActionSkip, ID: existing.ID}, nil
	}

	if err := applyArticleUpdate(ctx, e.articles, existing, in); err != nil {
		return Outcome{}, err
	}

	log.Debug("article updated",
		slog.String("article_id", existing.ID.String()),
		slog.String("guid", in.GUID))
	return Outcome{Action: ActionUpdate, ID: existing.ID}, nil
}

// overwriteProtectedArticle replaces protected content and clears its
// stage flags as one atomic step when a transactional store is available.
func (e *Engine) overwriteProtectedArticle(ctx context.Context, existing *domain.Article, in IncomingArticle) error {
	if e.db == nil {
		if err := applyArticleUpdate(ctx, e.articles, existing, in); err != nil {
			return err
		}
		if err := e.articles.ResetStages(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to reset stages after upstream change: %w", err)
		}
		return nil
	}

	return store.RunInTransaction(ctx, e.db, func(ctx context.Context, tx *sql.Tx) error {
		articles := e.articles.WithTx(tx)
		if err := applyArticleUpdate(ctx, articles, existing, in); err != nil {
			return err
		}
		if err := articles.ResetStages(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to reset stages after upstream change: %w", err)
		}
		return nil
	})
}

func applyArticleUpdate(ctx context.Context, articles store.ArticleStore, existing *domain.Article, in IncomingArticle) error {
	existing.URL = in.URL
	existing.Title = in.Title
	existing.Content = in.Content
	existing.SourceUpdatedAt = in.SourceUpdatedAt

	if err := articles.UpdateContent(ctx, existing); err != nil {
		return fmt.Errorf("failed to update article content: %w", err)
	}
	return nil
}

// ReconcileRepo merges one starred repository into the repo store, with
// the same protection rules as articles.
func (e *Engine) ReconcileRepo(ctx context.Context, in IncomingRepo) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	existing, err := e.repos.GetByNaturalKey(ctx, in.OwnerID, in.RemoteID)
	if err != nil {
		if !store.IsNotFoundError(err) {
			return Outcome{}, fmt.Errorf("failed to look up repo by natural key: %w", err)
		}

		repo, err := domain.NewRepo(in.OwnerID, in.RemoteID, in.FullName, in.URL, in.Description)
		if err != nil {
			return Outcome{}, fmt.Errorf("invalid incoming repo: %w", err)
		}
		repo.SourceUpdatedAt = in.SourceUpdatedAt

		if err := e.repos.Create(ctx, repo); err != nil {
			return Outcome{}, fmt.Errorf("failed to insert repo: %w", err)
		}

		log.Debug("repo inserted",
			slog.String("repo_id", repo.ID.String()),
			slog.Int64("remote_id", in.RemoteID))
		return Outcome{Action: ActionInsert, ID: repo.ID}, nil
	}

	changed := repoChanged(existing, in)
	advanced := sourceAdvanced(existing.SourceUpdatedAt, in.SourceUpdatedAt)

	if existing.Protected() {
		if !advanced {
			return Outcome{Action: ActionSkip, ID: existing.ID}, nil
		}

		if err := e.overwriteProtectedRepo(ctx, existing, in); err != nil {
			return Outcome{}, err
		}

		log.Info("protected repo overwritten after upstream change",
			slog.String("repo_id", existing.ID.String()),
			slog.Int64("remote_id", in.RemoteID))
		return Outcome{Action: ActionUpdate, ID: existing.ID}, nil
	}

	if !changed && !advanced {
		return Outcome{Action: ActionSkip, ID: existing.ID}, nil
	}

	if err := applyRepoUpdate(ctx, e.repos, existing, in); err != nil {
		return Outcome{}, err
	}

	return Outcome{Action: ActionUpdate, ID: existing.ID}, nil
}

func (e *Engine) overwriteProtectedRepo(ctx context.Context, existing *domain.Repo, in IncomingRepo) error {
	if e.db == nil {
		if err := applyRepoUpdate(ctx, e.repos, existing, in); err != nil {
			return err
		}
		if err := e.repos.ResetStages(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to reset stages after upstream change: %w", err)
		}
		return nil
	}

	return store.RunInTransaction(ctx, e.db, func(ctx context.Context, tx *sql.Tx) error {
		repos := e.repos.WithTx(tx)
		if err := applyRepoUpdate(ctx, repos, existing, in); err != nil {
			return err
		}
		if err := repos.ResetStages(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to reset stages after upstream change: %w", err)
		}
		return nil
	})
}

func applyRepoUpdate(ctx context.Context, repos store.RepoStore, existing *domain.Repo, in IncomingRepo) error {
	existing.FullName = in.FullName
	existing.URL = in.URL
	existing.Description = in.Description
	existing.SourceUpdatedAt = in.SourceUpdatedAt

	if err := repos.UpdateContent(ctx, existing); err != nil {
		return fmt.Errorf("failed to update repo content: %w", err)
	}
	return nil
}

// sourceAdvanced reports whether the incoming source timestamp strictly
// advanced past the stored one. This is the engine's single deterministic
// upstream-change signal; content hashes are deliberately not compared.
func sourceAdvanced(stored, incoming *time.Time) bool {
	if incoming == nil {
		return false
	}
	if stored == nil {
		return true
	}
	return incoming.After(*stored)
}

func articleChanged(existing *domain.Article, in IncomingArticle) bool {
	return existing.URL != in.URL ||
		existing.Title != in.Title ||
		existing.Content != in.Content
}

func repoChanged(existing *domain.Repo, in IncomingRepo) bool {
	return existing.FullName != in.FullName ||
		existing.URL != in.URL ||
		existing.Description != in.Description
}
