package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"     validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue"     validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"  validate:"required"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Stars     StarsConfig     `mapstructure:"stars"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains connection settings for the Redis instance backing
// the lease and rate-window stores.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// QueueConfig contains settings for the durable task queue runner.
type QueueConfig struct {
	// WorkerCount determines how many concurrent workers process jobs.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// PollInterval is how often idle workers poll for due jobs.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// VisibilityTimeout is how long a claimed job may run before the
	// stuck-job monitor considers its worker gone and redelivers it.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"required"`
}

// SchedulerConfig contains settings for the due-item scheduler.
type SchedulerConfig struct {
	// TickInterval is the period of the scheduler scan.
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"required"`

	// RefreshInterval is the default time between two refreshes of the
	// same feed, used when a feed carries no per-feed interval.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"required"`

	// StarSyncInterval is the time between two starred-repository syncs
	// for the same owner.
	StarSyncInterval time.Duration `mapstructure:"star_sync_interval" validate:"required"`

	// ScanBatchLimit bounds how many stalled entities one compensatory
	// scan may re-enqueue.
	ScanBatchLimit int `mapstructure:"scan_batch_limit" validate:"required,gt=0"`
}

// RateLimitConfig contains settings for the per-host rate limiter.
type RateLimitConfig struct {
	// MinInterval is the minimum time between two requests to the same host.
	MinInterval time.Duration `mapstructure:"min_interval" validate:"required"`

	// MaxWait is how long a caller is willing to sleep for its slot before
	// failing with a retryable timeout instead.
	MaxWait time.Duration `mapstructure:"max_wait" validate:"required"`
}

// PipelineConfig contains settings for the pipeline orchestrator.
type PipelineConfig struct {
	// LeaseTTL is the lease duration protecting one refresh run. It must
	// exceed the worst-case run time so a crashed worker's lease self-heals.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" validate:"required"`
}

// IndexerConfig contains settings for the semantic indexer collaborator.
type IndexerConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}

// StarsConfig contains settings for the starred-repository source. When
// no token is configured, star syncs report an empty listing.
type StarsConfig struct {
	// GitHubToken authenticates starred-repository listings. The token's
	// account is the one whose stars are synced.
	GitHubToken string `mapstructure:"github_token"`
}
