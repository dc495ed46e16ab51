package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mjarrett/feedforge/internal/api/middleware"
)

// RouterDeps bundles the handlers the router mounts.
type RouterDeps struct {
	Feeds   *FeedHandler
	Refresh *RefreshHandler
	Health  *HealthHandler
}

// NewRouter builds the engine's HTTP router. Health is served without
// owner identification; everything under /feeds requires it.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.Health.Health)

	r.Route("/feeds", func(r chi.Router) {
		r.Use(middleware.OwnerMiddleware)

		r.Post("/", deps.Feeds.CreateFeed)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", deps.Feeds.GetFeed)
			r.Delete("/", deps.Feeds.DeleteFeed)
			r.Get("/articles", deps.Feeds.ListArticles)
			r.Post("/refresh", deps.Refresh.RefreshNow)
			r.Delete("/refresh", deps.Refresh.CancelRefresh)
		})
	})

	return r
}
