package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/api"
	"github.com/mjarrett/feedforge/internal/api/middleware"
	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/events"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/service"
	"github.com/mjarrett/feedforge/internal/store"
)

type apiEnv struct {
	feeds    *store.MemoryFeedStore
	articles *store.MemoryArticleStore
	jobs     *queue.MemoryJobStore
	server   *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	_, log := logger.SetupTestLogger(t, nil)

	env := &apiEnv{
		feeds:    store.NewMemoryFeedStore(),
		articles: store.NewMemoryArticleStore(),
		jobs:     queue.NewMemoryJobStore(),
	}

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewEnqueueHandler(env.jobs, log))

	feedSvc := service.NewFeedService(env.feeds, env.articles, env.jobs, emitter, log)
	refreshSvc := service.NewRefreshService(env.feeds, env.jobs, emitter, log)

	router := api.NewRouter(api.RouterDeps{
		Feeds:   api.NewFeedHandler(feedSvc, log),
		Refresh: api.NewRefreshHandler(refreshSvc, log),
		Health:  api.NewHealthHandler(env.jobs, func() int64 { return 2 }, log),
	})

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (env *apiEnv) do(t *testing.T, method, path string, ownerID uuid.UUID, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	require.NoError(t, err)
	if ownerID != uuid.Nil {
		req.Header.Set(middleware.OwnerHeader, ownerID.String())
	}

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateFeedEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	resp := env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{
		URL:                    "https://news.example.com/rss",
		Title:                  "Example News",
		RefreshIntervalSeconds: 1800,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[api.FeedResponse](t, resp)
	assert.Equal(t, "https://news.example.com/rss", created.URL)
	assert.Equal(t, "Example News", created.Title)
	assert.Equal(t, "30m0s", created.RefreshInterval)

	// Creating a feed schedules its first refresh.
	_, ok := env.jobs.PendingByDedupeKey(pipeline.RefreshDedupeKey(created.ID))
	assert.True(t, ok)
}

func TestCreateFeedValidation(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	tests := []struct {
		name string
		req  api.CreateFeedRequest
	}{
		{name: "missing URL", req: api.CreateFeedRequest{}},
		{name: "relative URL", req: api.CreateFeedRequest{URL: "/feed.xml"}},
		{name: "negative interval", req: api.CreateFeedRequest{URL: "https://x.example.com/rss", RefreshIntervalSeconds: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/feeds", owner, tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCreateFeedDuplicate(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()
	req := api.CreateFeedRequest{URL: "https://news.example.com/rss"}

	resp := env.do(t, http.MethodPost, "/feeds", owner, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/feeds", owner, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFeedEndpointsRequireOwnerIdentity(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodPost, "/feeds", uuid.Nil, api.CreateFeedRequest{URL: "https://x.example.com/rss"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetFeedEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	resp := env.do(t, http.MethodGet, "/feeds/"+created.ID.String(), owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[api.FeedResponse](t, resp)
	assert.Equal(t, created.ID, got.ID)

	// Another owner cannot see the feed.
	resp = env.do(t, http.MethodGet, "/feeds/"+created.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown feed and malformed ID.
	resp = env.do(t, http.MethodGet, "/feeds/"+uuid.NewString(), owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/feeds/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListArticlesEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	article, err := domain.NewArticle(created.ID, "guid-1", "https://news.example.com/a1", "First", "body")
	require.NoError(t, err)
	require.NoError(t, env.articles.Create(ctx, article))
	require.NoError(t, env.articles.MarkStage(ctx, article.ID, domain.StageMedia, domain.StageSucceeded, time.Now().UTC(), ""))

	resp := env.do(t, http.MethodGet, "/feeds/"+created.ID.String()+"/articles", owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	articles := decodeBody[[]api.ArticleResponse](t, resp)
	require.Len(t, articles, 1)
	assert.Equal(t, "guid-1", articles[0].GUID)
	assert.Equal(t, "succeeded", articles[0].MediaStatus)
	assert.Equal(t, "pending", articles[0].IndexStatus)
}

func TestDeleteFeedEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	owner := uuid.New()

	created := decodeBody[api.FeedResponse](t,
		env.do(t, http.MethodPost, "/feeds", owner, api.CreateFeedRequest{URL: "https://news.example.com/rss"}))

	resp := env.do(t, http.MethodDelete, "/feeds/"+created.ID.String(), owner, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/feeds/"+created.ID.String(), owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
