package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mjarrett/feedforge/internal/ratelimit"
)

// reserveScript grants a rate-limit slot or reports the remaining cooldown,
// atomically. The window is a plain key whose TTL is the cooldown itself:
// while the key lives, the slot is taken.
// KEYS[1] = window key (e.g. "rate:news.example.com")
// ARGV[1] = minimum interval in milliseconds
// Returns 0 when the slot was granted (and the window stamped), otherwise
// the remaining cooldown in milliseconds.
var reserveScript = goredis.NewScript(`
local remaining = redis.call("PTTL", KEYS[1])
if remaining > 0 then
    return remaining
end
redis.call("SET", KEYS[1], "1", "PX", ARGV[1])
return 0
`)

// WindowStore implements ratelimit.WindowStore using Redis. Reserve is a
// single Lua round trip: it either stamps the window and grants the slot,
// or returns the remaining cooldown untouched.
type WindowStore struct {
	client *goredis.Client
}

// NewWindowStore creates a window store over the given Redis client.
func NewWindowStore(client *goredis.Client) *WindowStore {
	if client == nil {
		panic("client cannot be nil")
	}
	return &WindowStore{client: client}
}

// Ensure WindowStore implements ratelimit.WindowStore interface
var _ ratelimit.WindowStore = (*WindowStore)(nil)

// Reserve stamps the window for key and grants the slot, or returns the
// remaining cooldown when the minimum interval has not elapsed yet.
func (s *WindowStore) Reserve(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error) {
	if minInterval <= 0 {
		return 0, nil
	}

	remaining, err := reserveScript.Run(ctx, s.client, []string{key}, minInterval.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis rate window: %w", err)
	}
	return time.Duration(remaining) * time.Millisecond, nil
}

// NewClient creates a Redis client for the given address. Password may be
// empty and db zero for default setups.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
