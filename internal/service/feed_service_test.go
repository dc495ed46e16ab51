package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/events"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/service"
	"github.com/mjarrett/feedforge/internal/store"
)

type serviceEnv struct {
	feeds    *store.MemoryFeedStore
	articles *store.MemoryArticleStore
	jobs     *queue.MemoryJobStore
	feedSvc  service.FeedService
	refresh  service.RefreshService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	_, log := logger.SetupTestLogger(t, nil)

	env := &serviceEnv{
		feeds:    store.NewMemoryFeedStore(),
		articles: store.NewMemoryArticleStore(),
		jobs:     queue.NewMemoryJobStore(),
	}

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewEnqueueHandler(env.jobs, log))

	env.feedSvc = service.NewFeedService(env.feeds, env.articles, env.jobs, emitter, log)
	env.refresh = service.NewRefreshService(env.feeds, env.jobs, emitter, log)
	return env
}

func TestCreateFeedRequestsInitialRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	feed, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "Example News", 30*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, owner, feed.OwnerID)
	assert.Equal(t, 30*time.Minute, feed.RefreshInterval)

	job, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	require.True(t, ok, "creating a feed must schedule its first refresh")
	assert.Equal(t, pipeline.KindRefreshFeed, job.Kind)

	var p pipeline.RefreshPayload
	require.NoError(t, job.UnmarshalPayload(&p))
	assert.Equal(t, feed.ID, p.FeedID)
}

func TestCreateFeedRejectsDuplicateURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	_, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	_, err = env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", 0)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestCreateFeedRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)

	_, err := env.feedSvc.CreateFeed(context.Background(), uuid.New(), "not a url", "", 0)
	assert.Error(t, err)
}

func TestGetFeedEnforcesOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	feed, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	got, err := env.feedSvc.GetFeed(ctx, owner, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, feed.ID, got.ID)

	_, err = env.feedSvc.GetFeed(ctx, uuid.New(), feed.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)

	_, err = env.feedSvc.GetFeed(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, store.ErrFeedNotFound)
}

func TestDeleteFeedWithdrawsPendingRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	feed, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	require.True(t, ok)

	require.NoError(t, env.feedSvc.DeleteFeed(ctx, owner, feed.ID))

	_, err = env.feeds.GetByID(ctx, feed.ID)
	assert.ErrorIs(t, err, store.ErrFeedNotFound)
	_, ok = env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.False(t, ok, "deleting a feed must withdraw its pending refresh")
}

func TestDeleteFeedEnforcesOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	feed, err := env.feedSvc.CreateFeed(ctx, uuid.New(), "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	err = env.feedSvc.DeleteFeed(ctx, uuid.New(), feed.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)
}
