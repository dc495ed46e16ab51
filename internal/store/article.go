package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/domain"
)

// ArticleStore defines the interface for article data persistence.
//
// The natural key of an article is (FeedID, GUID). Implementations must
// guarantee that the internal ID assigned on first insert never changes
// for a given natural key, because downstream tables reference it by
// foreign key with no cascading rename.
type ArticleStore interface {
	// Create saves a new article to the store.
	// Returns ErrDuplicate if an article with the same natural key exists.
	Create(ctx context.Context, article *domain.Article) error

	// GetByID retrieves an article by its internal ID.
	// Returns ErrArticleNotFound if the article does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error)

	// GetByNaturalKey retrieves an article by its feed and source GUID.
	// Returns ErrArticleNotFound if no such article exists.
	GetByNaturalKey(ctx context.Context, feedID uuid.UUID, guid string) (*domain.Article, error)

	// UpdateContent overwrites the mutable content fields (URL, title,
	// content, source-updated timestamp) of an existing article, keeping
	// the internal ID and stage flags untouched.
	// Returns ErrArticleNotFound if the article does not exist.
	UpdateContent(ctx context.Context, article *domain.Article) error

	// ResetStages clears all stage flags and derived fields of an article,
	// forcing the pipeline to redo every stage. Used when upstream content
	// changed under a protected article.
	// Returns ErrArticleNotFound if the article does not exist.
	ResetStages(ctx context.Context, id uuid.UUID) error

	// MarkStage writes the tri-state flag for one stage along with the
	// attempt timestamp and a bounded error string (empty on success).
	// Returns ErrArticleNotFound if the article does not exist.
	MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, status domain.StageStatus, at time.Time, lastError string) error

	// ScanPending returns internal IDs of articles whose prerequisite
	// stage succeeded but whose given stage was never attempted, oldest
	// first, bounded by limit. Articles whose stage already failed are
	// never returned; failures are sticky until explicit intervention.
	ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error)

	// ListByFeed retrieves all articles belonging to a feed.
	ListByFeed(ctx context.Context, feedID uuid.UUID) ([]*domain.Article, error)

	// WithTx returns a new ArticleStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) ArticleStore
}
