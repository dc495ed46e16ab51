package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from config files, using the FEEDFORGE_ prefix
// with underscores for nesting (e.g. FEEDFORGE_SERVER_PORT).
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FEEDFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values so a bare environment still yields
// a runnable development configuration (aside from the database URL).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.worker_count", 4)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)

	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.refresh_interval", 30*time.Minute)
	v.SetDefault("scheduler.star_sync_interval", 6*time.Hour)
	v.SetDefault("scheduler.scan_batch_limit", 100)

	v.SetDefault("rate_limit.min_interval", time.Second)
	v.SetDefault("rate_limit.max_wait", 30*time.Second)

	v.SetDefault("pipeline.lease_ttl", 3*time.Minute)
}
