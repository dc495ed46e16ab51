package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeClockLimiter builds a limiter whose store clock and sleep are both
// driven by the test, so no test actually sleeps.
func fakeClockLimiter(minInterval time.Duration) (*Limiter, *MemoryWindowStore, *time.Time) {
	store := NewMemoryWindowStore()
	now := time.Now()
	current := &now
	store.SetClock(func() time.Time { return *current })

	limiter := New(store, minInterval, testLogger())
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		*current = current.Add(d)
		return nil
	}

	return limiter, store, current
}

func TestLimiter_WaitForKey(t *testing.T) {
	t.Parallel()

	t.Run("first caller proceeds immediately", func(t *testing.T) {
		t.Parallel()

		limiter, _, _ := fakeClockLimiter(time.Second)

		waited, err := limiter.WaitForKey(context.Background(), "example.com", 30*time.Second)
		require.NoError(t, err)
		assert.Zero(t, waited.Round(time.Millisecond))
	})

	t.Run("second caller waits out the cooldown", func(t *testing.T) {
		t.Parallel()

		limiter, store, current := fakeClockLimiter(time.Second)
		ctx := context.Background()

		_, err := limiter.WaitForKey(ctx, "example.com", 30*time.Second)
		require.NoError(t, err)

		first := *current
		_, err = limiter.WaitForKey(ctx, "example.com", 30*time.Second)
		require.NoError(t, err)

		// The fake sleep advanced the store clock by the cooldown, so the
		// second grant time is at least minInterval after the first.
		cool, reserveErr := store.Reserve(ctx, Key("example.com"), time.Second)
		require.NoError(t, reserveErr)
		assert.Positive(t, cool)
		assert.GreaterOrEqual(t, current.Sub(first), time.Second)
	})

	t.Run("different keys do not throttle each other", func(t *testing.T) {
		t.Parallel()

		limiter, _, _ := fakeClockLimiter(time.Second)
		ctx := context.Background()

		_, err := limiter.WaitForKey(ctx, "a.example.com", 30*time.Second)
		require.NoError(t, err)
		waited, err := limiter.WaitForKey(ctx, "b.example.com", 30*time.Second)
		require.NoError(t, err)
		assert.Zero(t, waited.Round(time.Millisecond))
	})

	t.Run("fails with retryable timeout when budget too small", func(t *testing.T) {
		t.Parallel()

		limiter, _, _ := fakeClockLimiter(10 * time.Second)
		ctx := context.Background()

		_, err := limiter.WaitForKey(ctx, "example.com", time.Minute)
		require.NoError(t, err)

		_, err = limiter.WaitForKey(ctx, "example.com", time.Second)
		assert.ErrorIs(t, err, ErrWaitBudgetExceeded)
	})

	t.Run("store error propagates", func(t *testing.T) {
		t.Parallel()

		limiter := New(failingWindowStore{}, time.Second, testLogger())
		_, err := limiter.WaitForKey(context.Background(), "example.com", time.Minute)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrWaitBudgetExceeded)
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryWindowStore()
		limiter := New(store, time.Hour, testLogger())

		ctx, cancel := context.WithCancel(context.Background())

		_, err := limiter.WaitForKey(ctx, "example.com", 2*time.Hour)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, waitErr := limiter.WaitForKey(ctx, "example.com", 2*time.Hour)
			done <- waitErr
		}()

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForKey did not return after context cancellation")
		}
	})
}

func TestMemoryWindowStore_ReserveIsAtomic(t *testing.T) {
	t.Parallel()

	store := NewMemoryWindowStore()
	ctx := context.Background()

	const callers = 16
	var granted int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cooldown, err := store.Reserve(ctx, "rate:example.com", time.Minute)
			if err == nil && cooldown == 0 {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only one concurrent caller may stamp the window inside one interval.
	assert.Equal(t, 1, granted)
}

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rate:example.com", Key("example.com"))
}

type failingWindowStore struct{}

func (failingWindowStore) Reserve(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error) {
	return 0, errors.New("window store unavailable")
}
