package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Repo
var (
	ErrEmptyRepoID         = errors.New("repo ID cannot be empty")
	ErrEmptyRepoOwnerID    = errors.New("repo owner ID cannot be empty")
	ErrInvalidRepoRemoteID = errors.New("repo remote ID must be positive")
	ErrEmptyRepoFullName   = errors.New("repo full name cannot be empty")
)

// Repo is a starred external repository ingested for a user. Its natural
// key is (OwnerID, RemoteID): the numeric identifier assigned by the
// hosting platform, stable across syncs. Like articles, the internal ID is
// assigned once and never changes for a given natural key.
//
// Repositories have no media stage; their pipeline is index → links.
type Repo struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	RemoteID int64     `json:"remote_id"`
	FullName string    `json:"full_name"`
	URL      string    `json:"url"`

	// Description is the fetched repository description/README summary.
	Description string `json:"description"`

	// SourceUpdatedAt is the platform's "pushed/updated at" timestamp,
	// used as the upstream-change signal for protected repos.
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`

	IndexStatus StageStatus `json:"index_status"`
	LinksStatus StageStatus `json:"links_status"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRepo creates a new Repo for the given owner.
// Returns an error if validation fails.
func NewRepo(ownerID uuid.UUID, remoteID int64, fullName, repoURL, description string) (*Repo, error) {
	now := time.Now().UTC()
	repo := &Repo{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		RemoteID:    remoteID,
		FullName:    fullName,
		URL:         repoURL,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := repo.Validate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// Validate checks if the Repo has valid data.
func (r *Repo) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRepoID
	}

	if r.OwnerID == uuid.Nil {
		return ErrEmptyRepoOwnerID
	}

	if r.RemoteID <= 0 {
		return ErrInvalidRepoRemoteID
	}

	if r.FullName == "" {
		return ErrEmptyRepoFullName
	}

	if !r.IndexStatus.IsValid() || !r.LinksStatus.IsValid() {
		return ErrInvalidStageStatus
	}

	return nil
}

// Protected reports whether this repo's content has been consumed by a
// succeeded index stage and must not be overwritten by a routine sync.
func (r *Repo) Protected() bool {
	return r.IndexStatus == StageSucceeded
}
