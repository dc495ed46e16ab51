package api_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/api"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/queue"
)

func TestRefreshNowEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	resp := env.do(t, http.MethodPost, "/feeds/"+created.ID.String()+"/refresh", owner, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decodeBody[api.RefreshAcceptedResponse](t, resp)
	assert.Equal(t, created.ID, accepted.FeedID)
	assert.True(t, accepted.Accepted)

	// The scheduled refresh is replaced in place at elevated priority,
	// not duplicated alongside it.
	assert.Equal(t, 1, env.jobs.Len())
	job, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(created.ID))
	require.True(t, ok)
	assert.Equal(t, queue.PriorityElevated, job.Priority)
}

func TestRefreshNowOwnershipAndExistence(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	resp := env.do(t, http.MethodPost, "/feeds/"+created.ID.String()+"/refresh", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/feeds/"+uuid.NewString()+"/refresh", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRefreshEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	resp := env.do(t, http.MethodDelete, "/feeds/"+created.ID.String()+"/refresh", owner, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.jobs.Len())

	// Nothing pending anymore.
	resp = env.do(t, http.MethodDelete, "/feeds/"+created.ID.String()+"/refresh", owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
