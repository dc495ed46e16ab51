package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
)

// External collaborators consumed by the pipeline. Implementations live
// outside the engine (HTTP fetchers, media workers, embedding services);
// the engine only depends on these narrow contracts.
//
// Fetch-shaped collaborators return errors and are expected to classify
// them with queue.Retryable / queue.Permanent. Per-item collaborators
// never return errors: they report structured results so that a fan-in
// callback is guaranteed to run even when some items fail.

// FetchedItem is one item produced by fetching a feed.
type FetchedItem struct {
	GUID      string
	URL       string
	Title     string
	Content   string
	UpdatedAt *time.Time
}

// ContentFetcher retrieves the current items of a feed.
type ContentFetcher interface {
	Fetch(ctx context.Context, feed *domain.Feed) ([]FetchedItem, error)
}

// MediaResult is the structured outcome of processing one article's media.
type MediaResult struct {
	DerivedRefs []string
	OK          bool
	Err         string
}

// MediaProcessor extracts and processes media for one article.
type MediaProcessor interface {
	Process(ctx context.Context, article *domain.Article) MediaResult
}

// IndexResult is the structured outcome of semantically indexing one item.
type IndexResult struct {
	ChunkCount int
	OK         bool
	Err        string
}

// SemanticIndexer indexes one item's text content. It is a black box that
// may itself call a third-party embedding service.
type SemanticIndexer interface {
	Index(ctx context.Context, id uuid.UUID, text string) IndexResult
}

// LinksResult is the structured outcome of cross-reference extraction.
type LinksResult struct {
	LinkedRefs []string
	OK         bool
	Err        string
}

// CrossRefExtractor extracts references from one item to other entities.
type CrossRefExtractor interface {
	Extract(ctx context.Context, id uuid.UUID, text string) LinksResult
}

// StarredRepo is one starred repository as reported by the hosting platform.
type StarredRepo struct {
	RemoteID    int64
	FullName    string
	URL         string
	Description string
	UpdatedAt   *time.Time
}

// StarSource lists the repositories starred by an owner.
type StarSource interface {
	ListStarred(ctx context.Context, ownerID uuid.UUID) ([]StarredRepo, error)
}
