package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/lease"
)

// These tests require a running Redis on localhost and skip otherwise.

func redisClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := NewClient("localhost:6379", "", 0)
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		t.Skip("skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLeaseStoreIntegration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	store := NewLeaseStore(client)

	key := "lock:test:" + lease.NewToken()
	holder := lease.NewToken()
	intruder := lease.NewToken()

	ok, err := store.Acquire(ctx, key, holder, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquire is refused while the lease lives.
	ok, err = store.Acquire(ctx, key, intruder, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := store.TTLRemaining(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	// Only the holder can release.
	err = store.Release(ctx, key, intruder)
	assert.ErrorIs(t, err, lease.ErrNotHeld)
	require.NoError(t, store.Release(ctx, key, holder))

	_, err = store.TTLRemaining(ctx, key)
	assert.ErrorIs(t, err, lease.ErrNoLease)

	// After release the key is free again.
	ok, err = store.Acquire(ctx, key, intruder, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Release(ctx, key, intruder))
}

func TestWindowStoreIntegration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	store := NewWindowStore(client)

	key := "rate:test:" + lease.NewToken()

	cooldown, err := store.Reserve(ctx, key, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, cooldown)

	// The slot is taken for the rest of the interval.
	cooldown, err = store.Reserve(ctx, key, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, cooldown, time.Duration(0))
	assert.LessOrEqual(t, cooldown, 500*time.Millisecond)

	time.Sleep(cooldown + 50*time.Millisecond)

	cooldown, err = store.Reserve(ctx, key, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, cooldown)
}
