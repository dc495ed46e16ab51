// Package lease provides time-bounded, holder-verified mutual exclusion
// across worker processes. A lease is a record keyed by a namespaced string
// with a TTL and a holder token; at most one non-expired lease exists per
// key. Release only succeeds for the current holder, so a task that
// outlived its lease cannot release a lease it no longer owns.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/platform/logger"
)

// Common lease errors.
var (
	// ErrNotHeld is returned by Release when the key has no active lease
	// or the lease is held by a different token. Callers treat it as a
	// no-op signal, not a failure.
	ErrNotHeld = errors.New("lease not held by this token")

	// ErrNoLease is returned by TTLRemaining when the key has no active lease.
	ErrNoLease = errors.New("no active lease for key")
)

// Store is the backing store for leases. Implementations must make
// Acquire an atomic set-if-absent, and Release an atomic
// compare-token-and-delete. Both complete in a single round trip.
type Store interface {
	// Acquire sets the lease only if the key has no active lease.
	// Returns true if the lease was granted to the given token.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the lease only if its current holder token matches.
	// Returns ErrNotHeld if the key is unheld or held by another token.
	Release(ctx context.Context, key, token string) error

	// TTLRemaining reports how long the current lease on key has left.
	// Returns ErrNoLease if the key has no active lease.
	TTLRemaining(ctx context.Context, key string) (time.Duration, error)
}

// Manager namespaces lease keys and applies the engine's failure policy:
// if the backing store is unreachable, Acquire fails closed (reports the
// lease as already held) rather than granting duplicate access.
type Manager struct {
	store  Store
	scope  string
	logger *slog.Logger
}

// NewManager creates a lease manager for the given scope. Keys produced by
// the manager have the form "lock:{scope}:{key}".
func NewManager(store Store, scope string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:  store,
		scope:  scope,
		logger: log.With(slog.String("component", "lease_manager"), slog.String("scope", scope)),
	}
}

// NewToken returns a fresh holder token.
func NewToken() string {
	return uuid.NewString()
}

// Key returns the namespaced store key for the given bare key.
func (m *Manager) Key(key string) string {
	return fmt.Sprintf("lock:%s:%s", m.scope, key)
}

// Acquire attempts to take the lease for key with the given token and TTL.
// A store error is reported as not-acquired: when in doubt, assume another
// worker holds the lease.
func (m *Manager) Acquire(ctx context.Context, key, token string, ttl time.Duration) bool {
	log := logger.FromContextOrDefault(ctx, m.logger)

	ok, err := m.store.Acquire(ctx, m.Key(key), token, ttl)
	if err != nil {
		log.Warn("lease store unavailable, failing closed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return false
	}

	if ok {
		log.Debug("lease acquired",
			slog.String("key", key),
			slog.Duration("ttl", ttl))
	} else {
		log.Debug("lease contended", slog.String("key", key))
	}

	return ok
}

// Release gives the lease back if token still holds it. Losing the race
// against TTL expiry plus reacquisition is expected and not an error.
func (m *Manager) Release(ctx context.Context, key, token string) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	err := m.store.Release(ctx, m.Key(key), token)
	if err != nil && !errors.Is(err, ErrNotHeld) {
		// The lease will expire on its own; nothing more to do here.
		log.Warn("lease release failed, lease will expire passively",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}

	if errors.Is(err, ErrNotHeld) {
		log.Debug("lease already expired or reacquired elsewhere",
			slog.String("key", key))
	}
}

// TTLRemaining reports how long the current lease on key has left, for
// observability and backoff decisions. Returns ErrNoLease if unheld.
func (m *Manager) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	return m.store.TTLRemaining(ctx, m.Key(key))
}
