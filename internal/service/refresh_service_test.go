package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/service"
	"github.com/mjarrett/feedforge/internal/store"
)

func TestRefreshNowPullsScheduledRefreshForward(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	feed, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", time.Hour)
	require.NoError(t, err)

	// Pretend the initial refresh already ran and re-armed itself an
	// hour out.
	claimed, err := env.jobs.Claim(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, env.jobs.Complete(ctx, claimed[0].ID))

	delayed, err := queue.NewJob(queue.QueueRefresh, pipeline.KindRefreshFeed, pipeline.RefreshPayload{FeedID: feed.ID}, time.Hour)
	require.NoError(t, err)
	delayed.WithDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	require.NoError(t, env.jobs.Enqueue(ctx, delayed))

	require.NoError(t, env.refresh.RefreshNow(ctx, owner, feed.ID))

	// Still exactly one pending refresh, now due immediately with
	// elevated priority.
	assert.Equal(t, 1, env.jobs.Len())
	job, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	require.True(t, ok)
	assert.Equal(t, queue.PriorityElevated, job.Priority)
	assert.WithinDuration(t, time.Now(), job.NotBefore, 5*time.Second)
}

func TestRefreshNowUnknownFeed(t *testing.T) {
	t.Parallel()
	env := newServiceEnv(t)

	err := env.refresh.RefreshNow(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrFeedNotFound)
}

func TestRefreshNowEnforcesOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	feed, err := env.feedSvc.CreateFeed(ctx, uuid.New(), "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	err = env.refresh.RefreshNow(ctx, uuid.New(), feed.ID)
	assert.ErrorIs(t, err, service.ErrNotOwned)
}

func TestCancelRefreshWithdrawsPendingJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newServiceEnv(t)

	owner := uuid.New()
	feed, err := env.feedSvc.CreateFeed(ctx, owner, "https://news.example.com/rss", "", 0)
	require.NoError(t, err)

	require.NoError(t, env.refresh.CancelRefresh(ctx, owner, feed.ID))
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(feed.ID))
	assert.False(t, ok)

	// Nothing left to cancel.
	err = env.refresh.CancelRefresh(ctx, owner, feed.ID)
	assert.ErrorIs(t, err, service.ErrNoPendingRefresh)
}
