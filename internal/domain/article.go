package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Article
var (
	ErrEmptyArticleID     = errors.New("article ID cannot be empty")
	ErrEmptyArticleFeedID = errors.New("article feed ID cannot be empty")
	ErrEmptyArticleGUID   = errors.New("article GUID cannot be empty")
)

// Article is an item ingested from a feed. Its natural key is the pair
// (FeedID, GUID): the GUID comes from the source and is stable across
// refreshes, while the internal ID is assigned on first sight and never
// changes afterwards. Downstream records (embeddings, cross-references)
// reference the internal ID by foreign key, so reassigning it would
// silently orphan them.
type Article struct {
	ID     uuid.UUID `json:"id"`
	FeedID uuid.UUID `json:"feed_id"`
	GUID   string    `json:"guid"`
	URL    string    `json:"url"`
	Title  string    `json:"title"`

	// Content is the fetched article body. Opaque to the engine; only its
	// presence and the SourceUpdatedAt signal matter for reconciliation.
	Content string `json:"content"`

	// SourceUpdatedAt is the "last modified" timestamp reported by the
	// source, when it reports one. A strictly advanced value is the
	// upstream-change signal that allows overwriting a protected article.
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`

	// Per-stage tri-state progress flags.
	MediaStatus StageStatus `json:"media_status"`
	IndexStatus StageStatus `json:"index_status"`
	LinksStatus StageStatus `json:"links_status"`

	// LastAttemptAt records when a stage worker last touched this article.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastError holds a bounded, sanitized description of the most recent
	// stage failure for this article.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewArticle creates a new Article belonging to the given feed.
// Returns an error if validation fails.
func NewArticle(feedID uuid.UUID, guid, articleURL, title, content string) (*Article, error) {
	now := time.Now().UTC()
	article := &Article{
		ID:        uuid.New(),
		FeedID:    feedID,
		GUID:      guid,
		URL:       articleURL,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := article.Validate(); err != nil {
		return nil, err
	}

	return article, nil
}

// Validate checks if the Article has valid data.
func (a *Article) Validate() error {
	if a.ID == uuid.Nil {
		return ErrEmptyArticleID
	}

	if a.FeedID == uuid.Nil {
		return ErrEmptyArticleFeedID
	}

	if a.GUID == "" {
		return ErrEmptyArticleGUID
	}

	if !a.MediaStatus.IsValid() || !a.IndexStatus.IsValid() || !a.LinksStatus.IsValid() {
		return ErrInvalidStageStatus
	}

	return nil
}

// StageStatus returns the flag for the given stage.
func (a *Article) StageStatus(stage Stage) (StageStatus, error) {
	switch stage {
	case StageMedia:
		return a.MediaStatus, nil
	case StageIndex:
		return a.IndexStatus, nil
	case StageLinks:
		return a.LinksStatus, nil
	default:
		return StageUnset, ErrUnknownStage
	}
}

// Protected reports whether this article is in the protected sub-state:
// its content has already been consumed by a succeeded index stage, so a
// routine refresh must not overwrite it and discard derived artifacts.
func (a *Article) Protected() bool {
	return a.IndexStatus == StageSucceeded
}
