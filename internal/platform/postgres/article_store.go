package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/store"
)

// PostgresArticleStore implements the store.ArticleStore interface
// using a PostgreSQL database as the storage backend.
type PostgresArticleStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresArticleStore creates a new PostgreSQL implementation of the ArticleStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresArticleStore(db store.DBTX, logger *slog.Logger) *PostgresArticleStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresArticleStore{
		db:     db,
		logger: logger.With(slog.String("component", "article_store")),
	}
}

// Ensure PostgresArticleStore implements store.ArticleStore interface
var _ store.ArticleStore = (*PostgresArticleStore)(nil)

const articleColumns = `id, feed_id, guid, url, title, content, source_updated_at,
	media_status, index_status, links_status, last_attempt_at, last_error,
	created_at, updated_at`

// Create implements store.ArticleStore.Create
// Returns store.ErrDuplicate if an article with the same (feed, GUID)
// natural key already exists.
func (s *PostgresArticleStore) Create(ctx context.Context, article *domain.Article) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := article.Validate(); err != nil {
		log.Warn("article validation failed during create",
			slog.String("error", err.Error()),
			slog.String("article_id", article.ID.String()))
		return err
	}

	query := `
		INSERT INTO articles (` + articleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		article.ID,
		article.FeedID,
		article.GUID,
		article.URL,
		article.Title,
		article.Content,
		article.SourceUpdatedAt,
		string(article.MediaStatus),
		string(article.IndexStatus),
		string(article.LinksStatus),
		article.LastAttemptAt,
		article.LastError,
		article.CreatedAt,
		article.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("duplicate article natural key",
				slog.String("feed_id", article.FeedID.String()),
				slog.String("guid", article.GUID))
		} else {
			log.Error("failed to create article",
				slog.String("error", err.Error()),
				slog.String("article_id", article.ID.String()))
		}
		return MapError(err)
	}

	return nil
}

// GetByID implements store.ArticleStore.GetByID
// Returns store.ErrArticleNotFound if the article does not exist.
func (s *PostgresArticleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`

	article, err := scanArticle(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrArticleNotFound
		}
		return nil, err
	}
	return article, nil
}

// GetByNaturalKey implements store.ArticleStore.GetByNaturalKey
// Returns store.ErrArticleNotFound if no such article exists.
func (s *PostgresArticleStore) GetByNaturalKey(ctx context.Context, feedID uuid.UUID, guid string) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE feed_id = $1 AND guid = $2`

	article, err := scanArticle(s.db.QueryRowContext(ctx, query, feedID, guid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrArticleNotFound
		}
		return nil, err
	}
	return article, nil
}

// UpdateContent implements store.ArticleStore.UpdateContent
// Only the mutable content fields change; the internal ID and the stage
// flags are untouched.
// Returns store.ErrArticleNotFound if the article does not exist.
func (s *PostgresArticleStore) UpdateContent(ctx context.Context, article *domain.Article) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE articles
		SET url = $1, title = $2, content = $3, source_updated_at = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		article.URL,
		article.Title,
		article.Content,
		article.SourceUpdatedAt,
		time.Now().UTC(),
		article.ID,
	)
	if err != nil {
		log.Error("failed to update article content",
			slog.String("error", err.Error()),
			slog.String("article_id", article.ID.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrArticleNotFound)
}

// ResetStages implements store.ArticleStore.ResetStages
// Returns store.ErrArticleNotFound if the article does not exist.
func (s *PostgresArticleStore) ResetStages(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE articles
		SET media_status = '', index_status = '', links_status = '',
			last_error = '', updated_at = $1
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to reset article stages",
			slog.String("error", err.Error()),
			slog.String("article_id", id.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrArticleNotFound)
}

// MarkStage implements store.ArticleStore.MarkStage
// Returns store.ErrArticleNotFound if the article does not exist.
func (s *PostgresArticleStore) MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, status domain.StageStatus, at time.Time, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	column, err := articleStageColumn(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE articles
		SET %s = $1, last_attempt_at = $2, last_error = $3, updated_at = $2
		WHERE id = $4
	`, column)
	result, err := s.db.ExecContext(ctx, query, string(status), at, lastError, id)
	if err != nil {
		log.Error("failed to mark article stage",
			slog.String("error", err.Error()),
			slog.String("article_id", id.String()),
			slog.String("stage", string(stage)))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrArticleNotFound)
}

// ScanPending implements store.ArticleStore.ScanPending
// It returns articles whose given stage was never attempted and whose
// prerequisite stage succeeded, oldest first. Failed stages are sticky and
// never returned.
func (s *PostgresArticleStore) ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	column, err := articleStageColumn(stage)
	if err != nil {
		return nil, err
	}

	where := fmt.Sprintf("%s = ''", column)
	if prereq, ok := stage.Prerequisite(); ok {
		prereqColumn, err := articleStageColumn(prereq)
		if err != nil {
			return nil, err
		}
		where = fmt.Sprintf("%s AND %s = 'succeeded'", where, prereqColumn)
	}

	query := fmt.Sprintf(`
		SELECT id FROM articles
		WHERE %s
		ORDER BY created_at ASC
		LIMIT $1
	`, where)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to scan pending articles",
			slog.String("error", err.Error()),
			slog.String("stage", string(stage)))
		return nil, err
	}
	defer closeRows(rows, log)

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByFeed implements store.ArticleStore.ListByFeed
func (s *PostgresArticleStore) ListByFeed(ctx context.Context, feedID uuid.UUID) ([]*domain.Article, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + articleColumns + ` FROM articles WHERE feed_id = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, feedID)
	if err != nil {
		log.Error("failed to list articles by feed",
			slog.String("error", err.Error()),
			slog.String("feed_id", feedID.String()))
		return nil, err
	}
	defer closeRows(rows, log)

	var articles []*domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			log.Error("failed to scan article row", slog.String("error", err.Error()))
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, rows.Err()
}

// WithTx implements store.ArticleStore.WithTx
// It returns a new ArticleStore that uses the provided transaction.
func (s *PostgresArticleStore) WithTx(tx *sql.Tx) store.ArticleStore {
	return &PostgresArticleStore{db: tx, logger: s.logger}
}

func articleStageColumn(stage domain.Stage) (string, error) {
	switch stage {
	case domain.StageMedia:
		return "media_status", nil
	case domain.StageIndex:
		return "index_status", nil
	case domain.StageLinks:
		return "links_status", nil
	default:
		return "", domain.ErrUnknownStage
	}
}

func scanArticle(row rowScanner) (*domain.Article, error) {
	var article domain.Article
	var sourceUpdatedAt, lastAttemptAt sql.NullTime
	var mediaStatus, indexStatus, linksStatus string
	var lastError sql.NullString

	err := row.Scan(
		&article.ID,
		&article.FeedID,
		&article.GUID,
		&article.URL,
		&article.Title,
		&article.Content,
		&sourceUpdatedAt,
		&mediaStatus,
		&indexStatus,
		&linksStatus,
		&lastAttemptAt,
		&lastError,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sourceUpdatedAt.Valid {
		t := sourceUpdatedAt.Time
		article.SourceUpdatedAt = &t
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		article.LastAttemptAt = &t
	}
	article.MediaStatus = domain.StageStatus(mediaStatus)
	article.IndexStatus = domain.StageStatus(indexStatus)
	article.LinksStatus = domain.StageStatus(linksStatus)
	article.LastError = lastError.String
	return &article, nil
}
