package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/domain"
)

// RepoStore defines the interface for starred-repository persistence.
//
// The natural key of a repo is (OwnerID, RemoteID). The same internal ID
// stability guarantee as ArticleStore applies.
type RepoStore interface {
	// Create saves a new repo to the store.
	// Returns ErrDuplicate if a repo with the same natural key exists.
	Create(ctx context.Context, repo *domain.Repo) error

	// GetByID retrieves a repo by its internal ID.
	// Returns ErrRepoNotFound if the repo does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Repo, error)

	// GetByNaturalKey retrieves a repo by its owner and remote ID.
	// Returns ErrRepoNotFound if no such repo exists.
	GetByNaturalKey(ctx context.Context, ownerID uuid.UUID, remoteID int64) (*domain.Repo, error)

	// UpdateContent overwrites the mutable content fields of an existing
	// repo, keeping the internal ID and stage flags untouched.
	// Returns ErrRepoNotFound if the repo does not exist.
	UpdateContent(ctx context.Context, repo *domain.Repo) error

	// ResetStages clears all stage flags and derived fields, forcing the
	// pipeline to redo every stage for this repo.
	// Returns ErrRepoNotFound if the repo does not exist.
	ResetStages(ctx context.Context, id uuid.UUID) error

	// MarkStage writes the tri-state flag for one stage along with the
	// attempt timestamp and a bounded error string (empty on success).
	// Returns ErrRepoNotFound if the repo does not exist.
	MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, status domain.StageStatus, at time.Time, lastError string) error

	// ScanPending returns internal IDs of repos whose prerequisite stage
	// succeeded but whose given stage was never attempted, oldest first,
	// bounded by limit. Failed repos are never returned.
	ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error)

	// WithTx returns a new RepoStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller.
	WithTx(tx *sql.Tx) RepoStore
}
