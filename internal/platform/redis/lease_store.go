// Package redis provides Redis-backed implementations of the engine's
// coordination stores: distributed leases and rate-limit windows. Both
// rely on single-round-trip atomic commands (SET NX and Lua scripts) so
// that no check-then-act race exists between worker processes.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mjarrett/feedforge/internal/lease"
)

// releaseScript deletes a lease only when the caller still holds it.
// KEYS[1] = lease key (e.g. "lock:feed:1234")
// ARGV[1] = holder token
// Returns 1 when the lease was deleted, 0 when the key is unheld or held
// by a different token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseStore implements lease.Store using Redis. Acquire maps to SET NX PX
// and Release to a compare-token-and-delete script, so both are atomic on
// the server.
type LeaseStore struct {
	client *goredis.Client
}

// NewLeaseStore creates a lease store over the given Redis client.
func NewLeaseStore(client *goredis.Client) *LeaseStore {
	if client == nil {
		panic("client cannot be nil")
	}
	return &LeaseStore{client: client}
}

// Ensure LeaseStore implements lease.Store interface
var _ lease.Store = (*LeaseStore)(nil)

// Acquire sets the lease only if the key has no active lease.
func (s *LeaseStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lease acquire: %w", err)
	}
	return ok, nil
}

// Release deletes the lease only if its current holder token matches.
// Returns lease.ErrNotHeld if the key is unheld or held by another token.
func (s *LeaseStore) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis lease release: %w", err)
	}
	if deleted == 0 {
		return lease.ErrNotHeld
	}
	return nil
}

// TTLRemaining reports how long the current lease on key has left.
// Returns lease.ErrNoLease if the key has no active lease.
func (s *LeaseStore) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis lease ttl: %w", err)
	}
	// PTTL reports negative durations for missing keys and keys without
	// an expiry; a lease is always written with one.
	if ttl < 0 {
		return 0, lease.ErrNoLease
	}
	return ttl, nil
}
