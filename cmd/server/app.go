package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mjarrett/feedforge/internal/api"
	"github.com/mjarrett/feedforge/internal/config"
	"github.com/mjarrett/feedforge/internal/events"
	"github.com/mjarrett/feedforge/internal/ingest"
	"github.com/mjarrett/feedforge/internal/lease"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/platform/gemini"
	"github.com/mjarrett/feedforge/internal/platform/postgres"
	"github.com/mjarrett/feedforge/internal/platform/redis"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/ratelimit"
	"github.com/mjarrett/feedforge/internal/scheduler"
	"github.com/mjarrett/feedforge/internal/service"
	"github.com/mjarrett/feedforge/internal/status"
	"github.com/mjarrett/feedforge/internal/store"
)

// application holds the shared application dependencies to simplify
// lifecycle management and shutdown ordering.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	feedStore    store.FeedStore
	articleStore store.ArticleStore
	repoStore    store.RepoStore
	jobStore     queue.JobStore

	// Services
	feedService    service.FeedService
	refreshService service.RefreshService

	// Event system
	eventEmitter events.EventEmitter

	// Background machinery
	redisClient *goredis.Client
	runner      *queue.Runner
	scheduler   *scheduler.Scheduler
}

// newApplication creates an application instance with all dependencies
// wired. It accepts core dependencies (configuration, logger, database)
// that must be established before initialization.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: log,
		db:     db,
	}

	// Entity and queue stores.
	app.feedStore = postgres.NewPostgresFeedStore(db, log)
	app.articleStore = postgres.NewPostgresArticleStore(db, log)
	app.repoStore = postgres.NewPostgresRepoStore(db, log)
	app.jobStore = postgres.NewPostgresJobStore(db, log)
	chordStore := postgres.NewPostgresChordStore(db, log)

	// Redis-backed leases and rate windows.
	app.redisClient = redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := app.redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Addr, err)
	}
	log.Info("redis connection established", "addr", cfg.Redis.Addr)

	leaseStore := redis.NewLeaseStore(app.redisClient)
	feedLeases := lease.NewManager(leaseStore, "feed", log)
	starLeases := lease.NewManager(leaseStore, "stars", log)
	schedLeases := lease.NewManager(leaseStore, "scheduler", log)
	limiter := ratelimit.New(redis.NewWindowStore(app.redisClient), cfg.RateLimit.MinInterval, log)

	// Pipeline collaborators.
	indexer, err := setupIndexer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	stars := newGitHubStarSource(cfg.Stars.GitHubToken, log)

	tracker := status.NewTracker(app.articleStore, app.repoStore, log)
	engine := ingest.NewEngine(db, app.articleStore, app.repoStore, log)
	coordinator := pipeline.NewCoordinator(chordStore)

	orchestrator := pipeline.New(pipeline.Deps{
		Feeds:      app.feedStore,
		Articles:   app.articleStore,
		Repos:      app.repoStore,
		Jobs:       app.jobStore,
		Chords:     coordinator,
		Tracker:    tracker,
		Ingest:     engine,
		FeedLeases: feedLeases,
		StarLeases: starLeases,
		Limiter:    limiter,
		Fetcher:    newRSSFetcher(),
		Media:      newMediaProcessor(),
		Indexer:    indexer,
		Links:      newLinkExtractor(),
		Stars:      stars,
	}, pipeline.Config{
		LeaseTTL:               cfg.Pipeline.LeaseTTL,
		RateMaxWait:            cfg.RateLimit.MaxWait,
		DefaultRefreshInterval: cfg.Scheduler.RefreshInterval,
	}, log)

	registry := queue.NewRegistry()
	orchestrator.RegisterHandlers(registry)

	app.runner = queue.NewRunner(app.jobStore, registry, queue.RunnerConfig{
		WorkerCount:       cfg.Queue.WorkerCount,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, log)

	app.scheduler = scheduler.New(app.feedStore, app.jobStore, tracker, schedLeases, scheduler.Config{
		TickInterval:           cfg.Scheduler.TickInterval,
		DefaultRefreshInterval: cfg.Scheduler.RefreshInterval,
		StarSyncInterval:       cfg.Scheduler.StarSyncInterval,
		ScanBatchLimit:         cfg.Scheduler.ScanBatchLimit,
		ListLimit:              500,
	}, log)

	// Event emitter bridging the service layer to the queue.
	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewEnqueueHandler(app.jobStore, log))
	app.eventEmitter = emitter

	app.feedService = service.NewFeedService(app.feedStore, app.articleStore, app.jobStore, app.eventEmitter, log)
	app.refreshService = service.NewRefreshService(app.feedStore, app.jobStore, app.eventEmitter, log)

	log.Info("application initialized")
	return app, nil
}

// setupIndexer builds the semantic indexer. Without an API key indexing
// degrades to a no-op so the rest of the pipeline still runs.
func setupIndexer(ctx context.Context, cfg *config.Config, log *slog.Logger) (pipeline.SemanticIndexer, error) {
	if cfg.Indexer.GeminiAPIKey == "" {
		log.Warn("no Gemini API key configured, semantic indexing disabled")
		return noopIndexer{}, nil
	}
	indexer, err := gemini.NewIndexer(ctx, gemini.Config{
		APIKey: cfg.Indexer.GeminiAPIKey,
		Model:  cfg.Indexer.Model,
	}, log.With("component", "indexer"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}
	return indexer, nil
}

// Run starts the background machinery and serves HTTP until shutdown.
func (app *application) Run(ctx context.Context) error {
	app.runner.Start()
	app.scheduler.Start()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// setupRouter builds the HTTP router from the application's services.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Feeds:   api.NewFeedHandler(app.feedService, app.logger),
		Refresh: api.NewRefreshHandler(app.refreshService, app.logger),
		Health:  api.NewHealthHandler(app.jobStore, app.runner.InFlight, app.logger),
	})
}

// cleanup handles graceful shutdown of application resources. The
// scheduler stops before the runner so no new work is armed while
// in-flight handlers drain.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
