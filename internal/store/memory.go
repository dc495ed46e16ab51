package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
)

// In-memory store implementations with the same semantics as the Postgres
// ones. They back engine tests and single-process development setups.
// WithTx is a no-op on these: every operation is already atomic under the
// store mutex.

// MemoryFeedStore is an in-process FeedStore.
type MemoryFeedStore struct {
	mu    sync.Mutex
	feeds map[uuid.UUID]*domain.Feed
}

// NewMemoryFeedStore creates an empty in-memory feed store.
func NewMemoryFeedStore() *MemoryFeedStore {
	return &MemoryFeedStore{feeds: make(map[uuid.UUID]*domain.Feed)}
}

// Create saves a new feed to the store.
func (s *MemoryFeedStore) Create(ctx context.Context, feed *domain.Feed) error {
	if err := feed.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.feeds {
		if existing.OwnerID == feed.OwnerID && existing.URL == feed.URL {
			return ErrDuplicate
		}
	}

	clone := *feed
	s.feeds[feed.ID] = &clone
	return nil
}

// GetByID retrieves a feed by its unique ID.
func (s *MemoryFeedStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[id]
	if !ok {
		return nil, ErrFeedNotFound
	}
	clone := *feed
	return &clone, nil
}

// Delete removes a feed by its unique ID.
func (s *MemoryFeedStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return ErrFeedNotFound
	}
	delete(s.feeds, id)
	return nil
}

// ListDue retrieves feeds due for a refresh, oldest-eligible first.
func (s *MemoryFeedStore) ListDue(ctx context.Context, now time.Time, defaultInterval time.Duration, limit int) ([]*domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Feed
	for _, feed := range s.feeds {
		if !feed.DueAt(defaultInterval).After(now) {
			clone := *feed
			due = append(due, &clone)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueAt(defaultInterval).Before(due[j].DueAt(defaultInterval))
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// SetLastRefreshed records the most recent refresh attempt.
func (s *MemoryFeedStore) SetLastRefreshed(ctx context.Context, id uuid.UUID, at time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed, ok := s.feeds[id]
	if !ok {
		return ErrFeedNotFound
	}

	feed.LastRefreshedAt = &at
	feed.LastError = lastError
	feed.UpdatedAt = time.Now().UTC()
	return nil
}

// Exists reports whether the feed still exists.
func (s *MemoryFeedStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[id]
	return ok, nil
}

// ListOwners returns the distinct owner IDs across all feeds.
func (s *MemoryFeedStore) ListOwners(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	var owners []uuid.UUID
	for _, feed := range s.feeds {
		if _, ok := seen[feed.OwnerID]; ok {
			continue
		}
		seen[feed.OwnerID] = struct{}{}
		owners = append(owners, feed.OwnerID)
	}
	return owners, nil
}

// WithTx returns the store itself; memory stores are transaction-free.
func (s *MemoryFeedStore) WithTx(tx *sql.Tx) FeedStore {
	return s
}

// MemoryArticleStore is an in-process ArticleStore.
type MemoryArticleStore struct {
	mu       sync.Mutex
	articles map[uuid.UUID]*domain.Article
}

// NewMemoryArticleStore creates an empty in-memory article store.
func NewMemoryArticleStore() *MemoryArticleStore {
	return &MemoryArticleStore{articles: make(map[uuid.UUID]*domain.Article)}
}

// Create saves a new article to the store.
func (s *MemoryArticleStore) Create(ctx context.Context, article *domain.Article) error {
	if err := article.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.articles {
		if existing.FeedID == article.FeedID && existing.GUID == article.GUID {
			return ErrDuplicate
		}
	}

	clone := *article
	s.articles[article.ID] = &clone
	return nil
}

// GetByID retrieves an article by its internal ID.
func (s *MemoryArticleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return nil, ErrArticleNotFound
	}
	clone := *article
	return &clone, nil
}

// GetByNaturalKey retrieves an article by its feed and source GUID.
func (s *MemoryArticleStore) GetByNaturalKey(ctx context.Context, feedID uuid.UUID, guid string) (*domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, article := range s.articles {
		if article.FeedID == feedID && article.GUID == guid {
			clone := *article
			return &clone, nil
		}
	}
	return nil, ErrArticleNotFound
}

// UpdateContent overwrites the mutable content fields of an article.
func (s *MemoryArticleStore) UpdateContent(ctx context.Context, article *domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.articles[article.ID]
	if !ok {
		return ErrArticleNotFound
	}

	existing.URL = article.URL
	existing.Title = article.Title
	existing.Content = article.Content
	existing.SourceUpdatedAt = article.SourceUpdatedAt
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetStages clears all stage flags and derived fields of an article.
func (s *MemoryArticleStore) ResetStages(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return ErrArticleNotFound
	}

	article.MediaStatus = domain.StageUnset
	article.IndexStatus = domain.StageUnset
	article.LinksStatus = domain.StageUnset
	article.LastError = ""
	article.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkStage writes the tri-state flag for one stage.
func (s *MemoryArticleStore) MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, st domain.StageStatus, at time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[id]
	if !ok {
		return ErrArticleNotFound
	}

	switch stage {
	case domain.StageMedia:
		article.MediaStatus = st
	case domain.StageIndex:
		article.IndexStatus = st
	case domain.StageLinks:
		article.LinksStatus = st
	default:
		return domain.ErrUnknownStage
	}

	article.LastAttemptAt = &at
	article.LastError = lastError
	article.UpdatedAt = at
	return nil
}

// ScanPending returns articles ready for the given stage, oldest first.
func (s *MemoryArticleStore) ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Article
	for _, article := range s.articles {
		current, err := article.StageStatus(stage)
		if err != nil {
			return nil, err
		}
		if current != domain.StageUnset {
			continue
		}

		if prereq, ok := stage.Prerequisite(); ok {
			prereqStatus, err := article.StageStatus(prereq)
			if err != nil {
				return nil, err
			}
			if prereqStatus != domain.StageSucceeded {
				continue
			}
		}

		pending = append(pending, article)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, article := range pending {
		ids = append(ids, article.ID)
	}
	return ids, nil
}

// ListByFeed retrieves all articles belonging to a feed.
func (s *MemoryArticleStore) ListByFeed(ctx context.Context, feedID uuid.UUID) ([]*domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Article
	for _, article := range s.articles {
		if article.FeedID == feedID {
			clone := *article
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// WithTx returns the store itself; memory stores are transaction-free.
func (s *MemoryArticleStore) WithTx(tx *sql.Tx) ArticleStore {
	return s
}

// MemoryRepoStore is an in-process RepoStore.
type MemoryRepoStore struct {
	mu    sync.Mutex
	repos map[uuid.UUID]*domain.Repo
}

// NewMemoryRepoStore creates an empty in-memory repo store.
func NewMemoryRepoStore() *MemoryRepoStore {
	return &MemoryRepoStore{repos: make(map[uuid.UUID]*domain.Repo)}
}

// Create saves a new repo to the store.
func (s *MemoryRepoStore) Create(ctx context.Context, repo *domain.Repo) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.repos {
		if existing.OwnerID == repo.OwnerID && existing.RemoteID == repo.RemoteID {
			return ErrDuplicate
		}
	}

	clone := *repo
	s.repos[repo.ID] = &clone
	return nil
}

// GetByID retrieves a repo by its internal ID.
func (s *MemoryRepoStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok {
		return nil, ErrRepoNotFound
	}
	clone := *repo
	return &clone, nil
}

// GetByNaturalKey retrieves a repo by its owner and remote ID.
func (s *MemoryRepoStore) GetByNaturalKey(ctx context.Context, ownerID uuid.UUID, remoteID int64) (*domain.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, repo := range s.repos {
		if repo.OwnerID == ownerID && repo.RemoteID == remoteID {
			clone := *repo
			return &clone, nil
		}
	}
	return nil, ErrRepoNotFound
}

// UpdateContent overwrites the mutable content fields of a repo.
func (s *MemoryRepoStore) UpdateContent(ctx context.Context, repo *domain.Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.repos[repo.ID]
	if !ok {
		return ErrRepoNotFound
	}

	existing.FullName = repo.FullName
	existing.URL = repo.URL
	existing.Description = repo.Description
	existing.SourceUpdatedAt = repo.SourceUpdatedAt
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetStages clears all stage flags and derived fields of a repo.
func (s *MemoryRepoStore) ResetStages(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok {
		return ErrRepoNotFound
	}

	repo.IndexStatus = domain.StageUnset
	repo.LinksStatus = domain.StageUnset
	repo.LastError = ""
	repo.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkStage writes the tri-state flag for one stage.
func (s *MemoryRepoStore) MarkStage(ctx context.Context, id uuid.UUID, stage domain.Stage, st domain.StageStatus, at time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[id]
	if !ok {
		return ErrRepoNotFound
	}

	switch stage {
	case domain.StageIndex:
		repo.IndexStatus = st
	case domain.StageLinks:
		repo.LinksStatus = st
	default:
		return domain.ErrUnknownStage
	}

	repo.LastAttemptAt = &at
	repo.LastError = lastError
	repo.UpdatedAt = at
	return nil
}

// ScanPending returns repos ready for the given stage, oldest first.
// Repositories have no media stage, so the index stage has no prerequisite.
func (s *MemoryRepoStore) ScanPending(ctx context.Context, stage domain.Stage, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Repo
	for _, repo := range s.repos {
		switch stage {
		case domain.StageIndex:
			if repo.IndexStatus == domain.StageUnset {
				pending = append(pending, repo)
			}
		case domain.StageLinks:
			if repo.LinksStatus == domain.StageUnset && repo.IndexStatus == domain.StageSucceeded {
				pending = append(pending, repo)
			}
		default:
			return nil, domain.ErrUnknownStage
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, repo := range pending {
		ids = append(ids, repo.ID)
	}
	return ids, nil
}

// WithTx returns the store itself; memory stores are transaction-free.
func (s *MemoryRepoStore) WithTx(tx *sql.Tx) RepoStore {
	return s
}
