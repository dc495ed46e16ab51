// Package ratelimit enforces a minimum interval between requests to the
// same key (the engine keys windows by remote hostname). The window store
// records the last-request time at the moment a caller is allowed to
// proceed, not after the remote call completes, so a slow downstream call
// cannot let a second caller slip through the window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mjarrett/feedforge/internal/platform/logger"
)

// ErrWaitBudgetExceeded is returned when the remaining cooldown for a key
// exceeds the caller's wait budget. It is a retryable condition: the task
// queue reschedules the caller rather than blocking a worker indefinitely.
var ErrWaitBudgetExceeded = errors.New("rate limit wait budget exceeded")

// WindowStore records per-key request windows. Reserve is atomic: in a
// single round trip it either stamps the new last-request time and grants
// the slot (returning zero), or returns the remaining cooldown without
// stamping anything.
type WindowStore interface {
	Reserve(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error)
}

// Limiter throttles callers per key with one global minimum interval.
type Limiter struct {
	store       WindowStore
	minInterval time.Duration
	logger      *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter with the given window store and minimum interval
// between two permitted actions on the same key.
func New(store WindowStore, minInterval time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		store:       store,
		minInterval: minInterval,
		logger:      log.With(slog.String("component", "rate_limiter")),
		sleep:       sleepCtx,
	}
}

// Key returns the namespaced store key for a domain.
func Key(domain string) string {
	return fmt.Sprintf("rate:%s", domain)
}

// WaitForKey blocks until the caller may issue a request for key, or fails
// with ErrWaitBudgetExceeded when the required wait would exceed maxWait.
// It returns the total time actually waited.
func (l *Limiter) WaitForKey(ctx context.Context, key string, maxWait time.Duration) (time.Duration, error) {
	log := logger.FromContextOrDefault(ctx, l.logger)

	start := time.Now()
	storeKey := Key(key)

	for {
		cooldown, err := l.store.Reserve(ctx, storeKey, l.minInterval)
		if err != nil {
			return time.Since(start), fmt.Errorf("rate window store: %w", err)
		}

		if cooldown <= 0 {
			waited := time.Since(start)
			if waited > 0 {
				log.Debug("rate limit slot granted after wait",
					slog.String("key", key),
					slog.Duration("waited", waited))
			}
			return waited, nil
		}

		if time.Since(start)+cooldown > maxWait {
			log.Debug("rate limit wait budget exceeded",
				slog.String("key", key),
				slog.Duration("cooldown", cooldown),
				slog.Duration("max_wait", maxWait))
			return time.Since(start), fmt.Errorf("%w: key %q needs %s", ErrWaitBudgetExceeded, key, cooldown)
		}

		if err := l.sleep(ctx, cooldown); err != nil {
			return time.Since(start), err
		}
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
