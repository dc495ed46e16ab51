package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/ingest"
	"github.com/mjarrett/feedforge/internal/lease"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/ratelimit"
	"github.com/mjarrett/feedforge/internal/status"
	"github.com/mjarrett/feedforge/internal/store"
)

// Fake collaborators. Each is keyed so individual items can be made to
// fail while the rest of the flow proceeds.

type fakeFetcher struct {
	mu    sync.Mutex
	items map[uuid.UUID][]pipeline.FetchedItem
	errs  map[uuid.UUID]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, feed *domain.Feed) ([]pipeline.FetchedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[feed.ID]; ok {
		return nil, err
	}
	return f.items[feed.ID], nil
}

type fakeMedia struct {
	mu        sync.Mutex
	failGUIDs map[string]bool
	processed []uuid.UUID
}

func (f *fakeMedia) Process(_ context.Context, a *domain.Article) pipeline.MediaResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, a.ID)
	if f.failGUIDs[a.GUID] {
		return pipeline.MediaResult{OK: false, Err: "unsupported media"}
	}
	return pipeline.MediaResult{OK: true, DerivedRefs: []string{"thumb:" + a.GUID}}
}

type fakeIndexer struct {
	mu      sync.Mutex
	fail    map[uuid.UUID]bool
	indexed []uuid.UUID
}

func (f *fakeIndexer) Index(_ context.Context, id uuid.UUID, _ string) pipeline.IndexResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, id)
	if f.fail[id] {
		return pipeline.IndexResult{OK: false, Err: "embedding service rejected content"}
	}
	return pipeline.IndexResult{OK: true, ChunkCount: 3}
}

type fakeLinks struct {
	mu        sync.Mutex
	extracted []uuid.UUID
}

func (f *fakeLinks) Extract(_ context.Context, id uuid.UUID, _ string) pipeline.LinksResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracted = append(f.extracted, id)
	return pipeline.LinksResult{OK: true}
}

type fakeStars struct {
	repos map[uuid.UUID][]pipeline.StarredRepo
	errs  map[uuid.UUID]error
}

func (f *fakeStars) ListStarred(_ context.Context, ownerID uuid.UUID) ([]pipeline.StarredRepo, error) {
	if err, ok := f.errs[ownerID]; ok {
		return nil, err
	}
	return f.repos[ownerID], nil
}

// faultyArticleStore lets a test make loads of a specific article fail
// with an infrastructure error, as a flaky database would.
type faultyArticleStore struct {
	*store.MemoryArticleStore
	mu      sync.Mutex
	loadErr map[uuid.UUID]error
}

func (s *faultyArticleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	s.mu.Lock()
	err := s.loadErr[id]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryArticleStore.GetByID(ctx, id)
}

func (s *faultyArticleStore) failLoads(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr[id] = err
}

type pipelineEnv struct {
	feeds    *store.MemoryFeedStore
	articles *faultyArticleStore
	repos    *store.MemoryRepoStore
	jobs     *queue.MemoryJobStore
	chords   *pipeline.MemoryChordStore
	leases   *lease.MemoryStore
	registry *queue.Registry
	fetcher  *fakeFetcher
	media    *fakeMedia
	indexer  *fakeIndexer
	links    *fakeLinks
	stars    *fakeStars
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	_, log := logger.SetupTestLogger(t, nil)

	jobs := queue.NewMemoryJobStore()
	env := &pipelineEnv{
		feeds: store.NewMemoryFeedStore(),
		articles: &faultyArticleStore{
			MemoryArticleStore: store.NewMemoryArticleStore(),
			loadErr:            make(map[uuid.UUID]error),
		},
		repos:    store.NewMemoryRepoStore(),
		jobs:     jobs,
		chords:   pipeline.NewMemoryChordStore(jobs),
		leases:   lease.NewMemoryStore(),
		registry: queue.NewRegistry(),
		fetcher:  &fakeFetcher{items: make(map[uuid.UUID][]pipeline.FetchedItem), errs: make(map[uuid.UUID]error)},
		media:    &fakeMedia{failGUIDs: make(map[string]bool)},
		indexer:  &fakeIndexer{fail: make(map[uuid.UUID]bool)},
		links:    &fakeLinks{},
		stars:    &fakeStars{repos: make(map[uuid.UUID][]pipeline.StarredRepo), errs: make(map[uuid.UUID]error)},
	}

	orch := pipeline.New(pipeline.Deps{
		Feeds:      env.feeds,
		Articles:   env.articles,
		Repos:      env.repos,
		Jobs:       env.jobs,
		Chords:     pipeline.NewCoordinator(env.chords),
		Tracker:    status.NewTracker(env.articles, env.repos, log),
		Ingest:     ingest.NewEngine(nil, env.articles, env.repos, log),
		FeedLeases: lease.NewManager(env.leases, "feed", log),
		StarLeases: lease.NewManager(env.leases, "stars", log),
		Limiter:    ratelimit.New(ratelimit.NewMemoryWindowStore(), 0, log),
		Fetcher:    env.fetcher,
		Media:      env.media,
		Indexer:    env.indexer,
		Links:      env.links,
		Stars:      env.stars,
	}, pipeline.Config{
		LeaseTTL:               time.Minute,
		RateMaxWait:            time.Second,
		DefaultRefreshInterval: time.Hour,
	}, log)
	orch.RegisterHandlers(env.registry)
	return env
}

// drain claims and executes due jobs until the queue has none left,
// acknowledging each the way the runner would.
func (env *pipelineEnv) drain(t *testing.T, ctx context.Context) {
	t.Helper()
	for i := 0; i < 200; i++ {
		claimed, err := env.jobs.Claim(ctx, time.Now().UTC(), 10)
		require.NoError(t, err)
		if len(claimed) == 0 {
			return
		}
		for _, job := range claimed {
			handler, err := env.registry.Handler(job.Kind)
			require.NoError(t, err)
			if herr := handler(ctx, job); herr != nil {
				require.NoError(t, env.jobs.Fail(ctx, job.ID, herr.Error()))
			} else {
				require.NoError(t, env.jobs.Complete(ctx, job.ID))
			}
		}
	}
	t.Fatal("queue did not drain")
}

// drainWithRetries is drain with the runner's full acknowledgement
// semantics: retryable errors go back to pending (due immediately) until
// the attempt budget is spent.
func (env *pipelineEnv) drainWithRetries(t *testing.T, ctx context.Context) {
	t.Helper()
	for i := 0; i < 500; i++ {
		claimed, err := env.jobs.Claim(ctx, time.Now().UTC(), 10)
		require.NoError(t, err)
		if len(claimed) == 0 {
			return
		}
		for _, job := range claimed {
			handler, err := env.registry.Handler(job.Kind)
			require.NoError(t, err)
			herr := handler(ctx, job)
			maxAttempts := job.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = queue.DefaultRetryPolicy.MaxAttempts
			}
			switch {
			case herr == nil:
				require.NoError(t, env.jobs.Complete(ctx, job.ID))
			case queue.IsRetryable(herr) && job.Attempts+1 < maxAttempts:
				require.NoError(t, env.jobs.Retry(ctx, job.ID, time.Now().UTC(), herr.Error()))
			default:
				require.NoError(t, env.jobs.Fail(ctx, job.ID, herr.Error()))
			}
		}
	}
	t.Fatal("queue did not drain")
}

func (env *pipelineEnv) addFeed(t *testing.T, items ...pipeline.FetchedItem) *domain.Feed {
	t.Helper()
	feed, err := domain.NewFeed(uuid.New(), "https://news.example.com/rss")
	require.NoError(t, err)
	feed.RefreshInterval = 30 * time.Minute
	require.NoError(t, env.feeds.Create(context.Background(), feed))
	env.fetcher.items[feed.ID] = items
	return feed
}

func (env *pipelineEnv) enqueueRefresh(t *testing.T, feedID uuid.UUID) {
	t.Helper()
	job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindRefreshFeed, pipeline.RefreshPayload{FeedID: feedID}, 0)
	require.NoError(t, err)
	job.WithDedupeKey(pipeline.RefreshDedupeKey(feedID))
	require.NoError(t, env.jobs.Enqueue(context.Background(), job))
}

func item(guid string) pipeline.FetchedItem {
	return pipeline.FetchedItem{
		GUID:    guid,
		URL:     "https://news.example.com/" + guid,
		Title:   "Title " + guid,
		Content: "Body of " + guid,
	}
}

func TestImmediateRefreshFullFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t, item("a"), item("b"), item("c"))
	env.enqueueRefresh(t, feed.ID)
	env.drain(t, ctx)

	articles, err := env.articles.ListByFeed(ctx, feed.ID)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	for _, a := range articles {
		assert.Equal(t, domain.StageSucceeded, a.MediaStatus, "media for %s", a.GUID)
		assert.Equal(t, domain.StageSucceeded, a.IndexStatus, "index for %s", a.GUID)
		assert.Equal(t, domain.StageSucceeded, a.LinksStatus, "links for %s", a.GUID)
	}

	got, err := env.feeds.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRefreshedAt)
	assert.Empty(t, got.LastError)

	// The flow re-armed itself: one pending refresh, delayed by the
	// feed's interval, under the stable dedupe key.
	next, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	require.True(t, ok, "flow must reschedule its feed")
	assert.Equal(t, pipeline.KindRefreshFeed, next.Kind)
	assert.WithinDuration(t, time.Now().Add(feed.RefreshInterval), next.NotBefore, 5*time.Second)
}

func TestImmediateRefreshPartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t, item("a"), item("b"), item("c"), item("d"), item("e"))
	env.media.failGUIDs["c"] = true

	env.enqueueRefresh(t, feed.ID)
	env.drain(t, ctx)

	articles, err := env.articles.ListByFeed(ctx, feed.ID)
	require.NoError(t, err)
	require.Len(t, articles, 5)

	var failed *domain.Article
	succeeded := 0
	for _, a := range articles {
		if a.GUID == "c" {
			failed = a
			continue
		}
		succeeded++
		assert.Equal(t, domain.StageSucceeded, a.LinksStatus, "links for %s", a.GUID)
	}
	require.NotNil(t, failed)
	assert.Equal(t, 4, succeeded)

	// The failed item keeps its failure and never reaches later stages.
	assert.Equal(t, domain.StageFailed, failed.MediaStatus)
	assert.Equal(t, domain.StageUnset, failed.IndexStatus)
	assert.Equal(t, domain.StageUnset, failed.LinksStatus)
	assert.Contains(t, failed.LastError, "unsupported media")
	assert.Len(t, env.indexer.indexed, 4)

	// One stuck unit does not block the flow from finishing and re-arming.
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.True(t, ok)
}

func TestImmediateRefreshNoChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t) // fetch returns nothing
	env.enqueueRefresh(t, feed.ID)
	env.drain(t, ctx)

	// Zero items is trivial success: no chord opened, flow still re-arms.
	assert.Equal(t, 0, env.chords.Len())
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.True(t, ok)

	got, err := env.feeds.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRefreshedAt)
}

func TestImmediateRefreshLeaseContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t, item("a"))

	// Another worker already holds the feed's lease.
	held, err := env.leases.Acquire(ctx, "lock:feed:"+feed.ID.String(), "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	env.enqueueRefresh(t, feed.ID)
	env.drain(t, ctx)

	// The contended refresh was dropped, not requeued: no fetch happened
	// and no reschedule was produced.
	assert.Equal(t, 0, env.fetcher.calls)
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.False(t, ok)
}

func TestImmediateRefreshFetchFailureRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t)
	env.fetcher.errs[feed.ID] = queue.Permanent(errors.New("410 gone"))

	env.enqueueRefresh(t, feed.ID)
	env.drain(t, ctx)

	got, err := env.feeds.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRefreshedAt)
	assert.Contains(t, got.LastError, "410 gone")
}

func TestImmediateRefreshDeletedFeedDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	env.enqueueRefresh(t, uuid.New())
	env.drain(t, ctx)

	assert.Equal(t, 0, env.fetcher.calls)
	assert.Equal(t, 0, env.jobs.Len())
}

func TestBatchRefreshBarrier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	owner := uuid.New()
	good1 := env.addFeed(t, item("g1-a"), item("g1-b"))
	good2 := env.addFeed(t, item("g2-a"))
	broken := env.addFeed(t)
	env.fetcher.errs[broken.ID] = queue.Permanent(errors.New("TLS handshake failed"))

	payload := pipeline.BatchRefreshPayload{
		OwnerID: owner,
		FeedIDs: []uuid.UUID{good1.ID, good2.ID, broken.ID},
	}
	job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindBatchRefresh, payload, 0)
	require.NoError(t, err)
	job.WithDedupeKey(pipeline.BatchDedupeKey(owner))
	require.NoError(t, env.jobs.Enqueue(ctx, job))

	env.drain(t, ctx)

	// The failed fetch reported to the barrier, so the surviving feeds'
	// articles went through every stage together.
	for _, feedID := range []uuid.UUID{good1.ID, good2.ID} {
		articles, err := env.articles.ListByFeed(ctx, feedID)
		require.NoError(t, err)
		require.NotEmpty(t, articles)
		for _, a := range articles {
			assert.Equal(t, domain.StageSucceeded, a.LinksStatus, "links for %s", a.GUID)
		}
	}

	brokenFeed, err := env.feeds.GetByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Contains(t, brokenFeed.LastError, "TLS handshake failed")

	// Batch flows do not self-reschedule; the scheduler re-arms them.
	assert.Equal(t, 0, env.jobs.Len())
	assert.Equal(t, 0, env.chords.Len())
}

func TestStarSyncFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	owner := uuid.New()
	env.stars.repos[owner] = []pipeline.StarredRepo{
		{RemoteID: 101, FullName: "alice/tools", URL: "https://git.example.com/alice/tools"},
		{RemoteID: 102, FullName: "bob/parser", URL: "https://git.example.com/bob/parser", Description: "a parser"},
	}

	job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindSyncStars, pipeline.SyncStarsPayload{OwnerID: owner}, 0)
	require.NoError(t, err)
	job.WithDedupeKey(pipeline.StarSyncDedupeKey(owner))
	require.NoError(t, env.jobs.Enqueue(ctx, job))

	env.drain(t, ctx)

	repo, err := env.repos.GetByNaturalKey(ctx, owner, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, repo.IndexStatus)
	assert.Equal(t, domain.StageSucceeded, repo.LinksStatus)

	repo2, err := env.repos.GetByNaturalKey(ctx, owner, 102)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, repo2.LinksStatus)
	assert.Equal(t, 0, env.chords.Len())
}

func TestStageRetryExhaustionStillClosesBarrier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	feed := env.addFeed(t, item("a"), item("b"))
	env.enqueueRefresh(t, feed.ID)

	// Run just the refresh so the articles and the media-stage barrier
	// exist before the fault is armed.
	claimed, err := env.jobs.Claim(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, pipeline.KindRefreshFeed, claimed[0].Kind)
	handler, err := env.registry.Handler(claimed[0].Kind)
	require.NoError(t, err)
	require.NoError(t, handler(ctx, claimed[0]))
	require.NoError(t, env.jobs.Complete(ctx, claimed[0].ID))

	articles, err := env.articles.ListByFeed(ctx, feed.ID)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	var stuck, healthy *domain.Article
	for _, a := range articles {
		if a.GUID == "a" {
			stuck = a
		} else {
			healthy = a
		}
	}
	require.NotNil(t, stuck)
	require.NotNil(t, healthy)

	// Every load of one article fails like a flaky database, so its
	// media-stage task burns through its whole retry budget.
	env.articles.failLoads(stuck.ID, errors.New("connection reset"))
	env.drainWithRetries(t, ctx)

	// The exhausted task reported a failure instead of dying silently:
	// the barrier closed and the healthy article went all the way through.
	assert.Equal(t, 0, env.chords.Len(), "barrier must close despite the exhausted task")
	got, err := env.articles.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, got.MediaStatus)
	assert.Equal(t, domain.StageSucceeded, got.IndexStatus)
	assert.Equal(t, domain.StageSucceeded, got.LinksStatus)

	// Only the healthy article reached later stages, and the flow still
	// re-armed its feed.
	assert.Equal(t, []uuid.UUID{healthy.ID}, env.indexer.indexed)
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.True(t, ok)
}

func TestStarSyncUnchangedReposSkipStages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newPipelineEnv(t)

	owner := uuid.New()
	starred := []pipeline.StarredRepo{{RemoteID: 7, FullName: "carol/cache", URL: "https://git.example.com/carol/cache"}}
	env.stars.repos[owner] = starred

	sync := func() {
		job, err := queue.NewJob(queue.QueueRefresh, pipeline.KindSyncStars, pipeline.SyncStarsPayload{OwnerID: owner}, 0)
		require.NoError(t, err)
		require.NoError(t, env.jobs.Enqueue(ctx, job))
		env.drain(t, ctx)
	}

	sync()
	first := len(env.indexer.indexed)
	assert.Equal(t, 1, first)

	// A second sync with identical upstream data reconciles to skip and
	// fans out nothing.
	sync()
	assert.Equal(t, first, len(env.indexer.indexed))
}
