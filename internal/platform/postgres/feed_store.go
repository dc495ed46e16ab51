package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/store"
)

// PostgresFeedStore implements the store.FeedStore interface
// using a PostgreSQL database as the storage backend.
type PostgresFeedStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresFeedStore creates a new PostgreSQL implementation of the FeedStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresFeedStore(db store.DBTX, logger *slog.Logger) *PostgresFeedStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresFeedStore{
		db:     db,
		logger: logger.With(slog.String("component", "feed_store")),
	}
}

// Ensure PostgresFeedStore implements store.FeedStore interface
var _ store.FeedStore = (*PostgresFeedStore)(nil)

// Create implements store.FeedStore.Create
// It saves a new feed to the database, handling domain validation.
// Returns store.ErrDuplicate if a feed with the same owner and URL exists.
func (s *PostgresFeedStore) Create(ctx context.Context, feed *domain.Feed) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := feed.Validate(); err != nil {
		log.Warn("feed validation failed during create",
			slog.String("error", err.Error()),
			slog.String("feed_id", feed.ID.String()))
		return err
	}

	query := `
		INSERT INTO feeds (id, owner_id, url, title, refresh_interval_seconds,
			last_refreshed_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		feed.ID,
		feed.OwnerID,
		feed.URL,
		feed.Title,
		int64(feed.RefreshInterval/time.Second),
		feed.LastRefreshedAt,
		feed.LastError,
		feed.CreatedAt,
		feed.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("duplicate feed for owner",
				slog.String("feed_id", feed.ID.String()),
				slog.String("owner_id", feed.OwnerID.String()))
			return MapError(err)
		}
		log.Error("failed to create feed",
			slog.String("error", err.Error()),
			slog.String("feed_id", feed.ID.String()))
		return MapError(err)
	}

	log.Info("feed created",
		slog.String("feed_id", feed.ID.String()),
		slog.String("owner_id", feed.OwnerID.String()))
	return nil
}

// GetByID implements store.FeedStore.GetByID
// Returns store.ErrFeedNotFound if the feed does not exist.
func (s *PostgresFeedStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Feed, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, owner_id, url, title, refresh_interval_seconds,
			last_refreshed_at, last_error, created_at, updated_at
		FROM feeds
		WHERE id = $1
	`

	feed, err := scanFeed(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("feed not found", slog.String("feed_id", id.String()))
			return nil, store.ErrFeedNotFound
		}
		log.Error("failed to get feed by ID",
			slog.String("error", err.Error()),
			slog.String("feed_id", id.String()))
		return nil, err
	}

	return feed, nil
}

// Delete implements store.FeedStore.Delete
// Returns store.ErrFeedNotFound if the feed does not exist.
func (s *PostgresFeedStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete feed",
			slog.String("error", err.Error()),
			slog.String("feed_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrFeedNotFound); err != nil {
		return err
	}

	log.Info("feed deleted", slog.String("feed_id", id.String()))
	return nil
}

// ListDue implements store.FeedStore.ListDue
// A feed is due when it has never been refreshed, or when its per-feed
// interval (falling back to defaultInterval) has elapsed since the last
// refresh. Results are ordered oldest-eligible first.
func (s *PostgresFeedStore) ListDue(ctx context.Context, now time.Time, defaultInterval time.Duration, limit int) ([]*domain.Feed, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, owner_id, url, title, refresh_interval_seconds,
			last_refreshed_at, last_error, created_at, updated_at
		FROM feeds
		WHERE last_refreshed_at IS NULL
			OR last_refreshed_at + make_interval(secs =>
				CASE WHEN refresh_interval_seconds > 0
					THEN refresh_interval_seconds
					ELSE $2::bigint
				END) <= $1
		ORDER BY last_refreshed_at ASC NULLS FIRST
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, now, int64(defaultInterval/time.Second), limit)
	if err != nil {
		log.Error("failed to query due feeds", slog.String("error", err.Error()))
		return nil, err
	}
	defer closeRows(rows, log)

	var feeds []*domain.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			log.Error("failed to scan feed row", slog.String("error", err.Error()))
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		log.Error("error after scanning feed rows", slog.String("error", err.Error()))
		return nil, err
	}

	return feeds, nil
}

// SetLastRefreshed implements store.FeedStore.SetLastRefreshed
// Returns store.ErrFeedNotFound if the feed does not exist.
func (s *PostgresFeedStore) SetLastRefreshed(ctx context.Context, id uuid.UUID, at time.Time, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE feeds
		SET last_refreshed_at = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, at, lastError, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to set last refreshed",
			slog.String("error", err.Error()),
			slog.String("feed_id", id.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrFeedNotFound)
}

// Exists implements store.FeedStore.Exists
func (s *PostgresFeedStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM feeds WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListOwners implements store.FeedStore.ListOwners
func (s *PostgresFeedStore) ListOwners(ctx context.Context) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM feeds`)
	if err != nil {
		log.Error("failed to query feed owners", slog.String("error", err.Error()))
		return nil, err
	}
	defer closeRows(rows, log)

	var owners []uuid.UUID
	for rows.Next() {
		var ownerID uuid.UUID
		if err := rows.Scan(&ownerID); err != nil {
			return nil, err
		}
		owners = append(owners, ownerID)
	}
	return owners, rows.Err()
}

// WithTx implements store.FeedStore.WithTx
// It returns a new FeedStore that uses the provided transaction.
func (s *PostgresFeedStore) WithTx(tx *sql.Tx) store.FeedStore {
	return &PostgresFeedStore{db: tx, logger: s.logger}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*domain.Feed, error) {
	var feed domain.Feed
	var intervalSeconds int64
	var lastRefreshedAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(
		&feed.ID,
		&feed.OwnerID,
		&feed.URL,
		&feed.Title,
		&intervalSeconds,
		&lastRefreshedAt,
		&lastError,
		&feed.CreatedAt,
		&feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.RefreshInterval = time.Duration(intervalSeconds) * time.Second
	if lastRefreshedAt.Valid {
		t := lastRefreshedAt.Time
		feed.LastRefreshedAt = &t
	}
	feed.LastError = lastError.String
	return &feed, nil
}

func closeRows(rows *sql.Rows, log *slog.Logger) {
	if err := rows.Close(); err != nil {
		log.Error("failed to close rows", slog.String("error", err.Error()))
	}
}
