package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/domain"
)

// FeedStore defines the interface for feed data persistence.
type FeedStore interface {
	// Create saves a new feed to the store.
	// It handles domain validation internally.
	// Returns ErrDuplicate if a feed with the same owner and URL exists.
	Create(ctx context.Context, feed *domain.Feed) error

	// GetByID retrieves a feed by its unique ID.
	// Returns ErrFeedNotFound if the feed does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Feed, error)

	// Delete removes a feed by its unique ID.
	// Returns ErrFeedNotFound if the feed does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListDue retrieves feeds whose next due time is at or before now,
	// using defaultInterval for feeds without a per-feed interval.
	// Feeds that have never been refreshed are always due. Results are
	// ordered oldest-eligible first and bounded by limit.
	ListDue(ctx context.Context, now time.Time, defaultInterval time.Duration, limit int) ([]*domain.Feed, error)

	// SetLastRefreshed records the start time of the most recent refresh
	// attempt and the bounded error string from it (empty on success).
	// Returns ErrFeedNotFound if the feed does not exist.
	SetLastRefreshed(ctx context.Context, id uuid.UUID, at time.Time, lastError string) error

	// Exists reports whether the feed still exists. Running handlers check
	// this before writing results so that work for a deleted feed is
	// discarded rather than resurrected.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	// ListOwners returns the distinct owner IDs across all feeds. The
	// scheduler uses it to arm per-owner work such as star syncs.
	ListOwners(ctx context.Context) ([]uuid.UUID, error)

	// WithTx returns a new FeedStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) FeedStore
}
