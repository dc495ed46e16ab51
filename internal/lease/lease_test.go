package lease

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

func TestManager_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("mutual exclusion per key", func(t *testing.T) {
		t.Parallel()

		mgr := NewManager(NewMemoryStore(), "unit", testLogger())
		ctx := context.Background()

		tokenA := NewToken()
		tokenB := NewToken()

		assert.True(t, mgr.Acquire(ctx, "42", tokenA, time.Minute))
		assert.False(t, mgr.Acquire(ctx, "42", tokenB, time.Minute))

		// A different key is unaffected.
		assert.True(t, mgr.Acquire(ctx, "43", tokenB, time.Minute))
	})

	t.Run("expired lease can be reacquired", func(t *testing.T) {
		t.Parallel()

		store := NewMemoryStore()
		now := time.Now()
		store.SetClock(func() time.Time { return now })

		mgr := NewManager(store, "unit", testLogger())
		ctx := context.Background()

		require.True(t, mgr.Acquire(ctx, "42", "token-a", 180*time.Second))
		assert.False(t, mgr.Acquire(ctx, "42", "token-b", 180*time.Second))

		// 181 seconds later the lease has expired without a release.
		now = now.Add(181 * time.Second)
		assert.True(t, mgr.Acquire(ctx, "42", "token-b", 180*time.Second))
	})

	t.Run("fails closed when the store errors", func(t *testing.T) {
		t.Parallel()

		mgr := NewManager(&failingStore{}, "unit", testLogger())
		assert.False(t, mgr.Acquire(context.Background(), "42", NewToken(), time.Minute))
	})

	t.Run("concurrent callers get at most one grant", func(t *testing.T) {
		t.Parallel()

		mgr := NewManager(NewMemoryStore(), "unit", testLogger())
		ctx := context.Background()

		const callers = 32
		var granted int32
		var mu sync.Mutex
		var wg sync.WaitGroup

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if mgr.Acquire(ctx, "contended", NewToken(), time.Minute) {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), granted)
	})
}

func TestManager_Release(t *testing.T) {
	t.Parallel()

	t.Run("holder can release and lease becomes free", func(t *testing.T) {
		t.Parallel()

		mgr := NewManager(NewMemoryStore(), "unit", testLogger())
		ctx := context.Background()

		token := NewToken()
		require.True(t, mgr.Acquire(ctx, "42", token, time.Minute))

		mgr.Release(ctx, "42", token)
		assert.True(t, mgr.Acquire(ctx, "42", NewToken(), time.Minute))
	})

	t.Run("non-holder release does not free the lease", func(t *testing.T) {
		t.Parallel()

		mgr := NewManager(NewMemoryStore(), "unit", testLogger())
		ctx := context.Background()

		holder := NewToken()
		require.True(t, mgr.Acquire(ctx, "42", holder, time.Minute))

		// A stale worker whose lease expired and was reacquired must not
		// be able to release the current holder's lease.
		mgr.Release(ctx, "42", "stale-token")
		assert.False(t, mgr.Acquire(ctx, "42", NewToken(), time.Minute))
	})
}

func TestManager_TTLRemaining(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	mgr := NewManager(store, "unit", testLogger())
	ctx := context.Background()

	_, err := mgr.TTLRemaining(ctx, "42")
	assert.ErrorIs(t, err, ErrNoLease)

	require.True(t, mgr.Acquire(ctx, "42", NewToken(), time.Minute))

	remaining, err := mgr.TTLRemaining(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, remaining)

	now = now.Add(45 * time.Second)
	remaining, err = mgr.TTLRemaining(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, remaining)
}

func TestManager_Key(t *testing.T) {
	t.Parallel()

	mgr := NewManager(NewMemoryStore(), "feed", testLogger())
	assert.Equal(t, "lock:feed:42", mgr.Key("42"))
}

// failingStore simulates an unreachable lease backend.
type failingStore struct{}

func (s *failingStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return false, errors.New("store unavailable")
}

func (s *failingStore) Release(ctx context.Context, key, token string) error {
	return errors.New("store unavailable")
}

func (s *failingStore) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	return 0, errors.New("store unavailable")
}
