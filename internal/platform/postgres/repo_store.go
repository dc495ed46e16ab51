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

// PostgresRepoStore implements the store.RepoStore interface
// using a PostgreSQL database as the storage backend.
type PostgresRepoStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRepoStore creates a new PostgreSQL implementation of the RepoStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresRepoStore(db store.DBTX, logger *slog.Logger) *PostgresRepoStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRepoStore{
		db:     db,
		logger: logger.With(slog.String("component", "repo_store")),
	}
}

// Ensure PostgresRepoStore implements store.RepoStore interface
var _ store.RepoStore = (*PostgresRepoStore)(nil)

const repoColumns = `id, owner_id, remote_id, full_name, url, description,
	source_updated_at, index_status, links_status, last_attempt_at, last_error,
	created_at, updated_at`

// Create implements store.RepoStore.Create
// Returns store.ErrDuplicate if a repo with the same (owner, remote ID)
// natural key already exists.
func (s *PostgresRepoStore) Create(ctx context.Context, repo *domain.Repo) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := repo.Validate(); err != nil {
		log.Warn("repo validation failed during create",
			slog.String("error", err.Error()),
			slog.String("repo_id", repo.ID.String()))
		return err
	}

	query := `
		INSERT INTO repos (` + repoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		repo.ID,
		repo.OwnerID,
		repo.RemoteID,
		repo.FullName,
		repo.URL,
		repo.Description,
		repo.SourceUpdatedAt,
		string(repo.IndexStatus),
		string(repo.LinksStatus),
		repo.LastAttemptAt,
		repo.LastError,
		repo.CreatedAt,
		repo.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("duplicate repo natural key",
				slog.String("owner_id", repo.OwnerID.String()),
				slog.Int64("remote_id", repo.RemoteID))
		} else {
			log.Error("failed to create repo",
				slog.String("error", err.Error()),
				slog.String("repo_id", repo.ID.String()))
		}
		return MapError(err)
	}

	return nil
}

// GetByID implements store.RepoStore.GetByID
// Returns store.ErrRepoNotFound if the repo does not exist.
func (s *PostgresRepoStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE id = $1`

	repo, err := scanRepo(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRepoNotFound
		}
		return nil, err
	}
	return repo, nil
}

// GetByNaturalKey implements store.RepoStore.GetByNaturalKey
// Returns store.ErrRepoNotFound if no such repo exists.
func (s *PostgresRepoStore) GetByNaturalKey(ctx context.Context, ownerID uuid.UUID, remoteID int64) (*domain.Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repos WHERE owner_id = $1 AND remote_id = $2`

	repo, err := scanRepo(s.db.QueryRowContext(ctx, query, ownerID, remoteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRepoNotFound
		}
		return nil, err
	}
	return repo, nil
}

// UpdateContent implements store.RepoStore.UpdateContent
// Returns store.ErrRepoNotFound if the repo does not exist.
func (s *PostgresRepoStore) UpdateContent(ctx context.Context, repo *domain.Repo) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE repos
		SET full_name = $1, url = $2, description = $3, source_updated_at = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		repo.FullName,
		repo.URL,
		repo.Description,
		repo.SourceUpdatedAt,
		time.Now().UTC(),
		repo.ID,
	)
	if err != nil {
		log.Error("failed to update repo content",
			slog.String("error", err.Error()),
			slog.String("repo_id", repo.ID.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrRepoNotFound)
}

// ResetStages implements store.RepoStore.ResetStages
// Returns store.ErrRepoNotFound if the repo does not exist.
func (s *PostgresRepoStore) ResetStages(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE repos
		SET index_status = '', links_status = '', last_error = '', updated_at = $1
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to reset repo stages",
			slog.String("error", err.Error()),
			slog.String("repo_id", id.String()))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrRepoNotFound)
}

// MarkStage implements store.RepoStore.MarkStage
// Returns store.ErrRepoNotFound if the repo does not exist.
func (s *PostgresRepoStore) MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, status domain.StageStatus, at time.Time, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	column, err := repoStageColumn(stage)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE repos
		SET %s = $1, last_attempt_at = $2, last_error = $3, updated_at = $2
		WHERE id = $4
	`, column)
	result, err := s.db.ExecContext(ctx, query, string(status), at, lastError, id)
	if err != nil {
		log.Error("failed to mark repo stage",
			slog.String("error", err.Error()),
			slog.String("repo_id", id.String()),
			slog.String("stage", string(stage)))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrRepoNotFound)
}

// ScanPending implements store.RepoStore.ScanPending
// Repositories have no media stage, so indexing has no prerequisite.
func (s *PostgresRepoStore) ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var where string
	switch stage {
	case domain.StageIndex:
		where = `index_status = ''`
	case domain.StageLinks:
		where = `links_status = '' AND index_status = 'succeeded'`
	default:
		return nil, domain.ErrUnknownStage
	}

	query := fmt.Sprintf(`
		SELECT id FROM repos
		WHERE %s
		ORDER BY created_at ASC
		LIMIT $1
	`, where)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		log.Error("failed to scan pending repos",
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

// WithTx implements store.RepoStore.WithTx
// It returns a new RepoStore that uses the provided transaction.
func (s *PostgresRepoStore) WithTx(tx *sql.Tx) store.RepoStore {
	return &PostgresRepoStore{db: tx, logger: s.logger}
}

func repoStageColumn(stage domain.Stage) (string, error) {
	switch stage {
	case domain.StageIndex:
		return "index_status", nil
	case domain.StageLinks:
		return "links_status", nil
	default:
		return "", domain.ErrUnknownStage
	}
}

func scanRepo(row rowScanner) (*domain.Repo, error) {
	var repo domain.Repo
	var sourceUpdatedAt, lastAttemptAt sql.NullTime
	var indexStatus, linksStatus string
	var lastError sql.NullString

	err := row.Scan(
		&repo.ID,
		&repo.OwnerID,
		&repo.RemoteID,
		&repo.FullName,
		&repo.URL,
		&repo.Description,
		&sourceUpdatedAt,
		&indexStatus,
		&linksStatus,
		&lastAttemptAt,
		&lastError,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sourceUpdatedAt.Valid {
		t := sourceUpdatedAt.Time
		repo.SourceUpdatedAt = &t
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		repo.LastAttemptAt = &t
	}
	repo.IndexStatus = domain.StageStatus(indexStatus)
	repo.LinksStatus = domain.StageStatus(linksStatus)
	repo.LastError = lastError.String
	return &repo, nil
}
