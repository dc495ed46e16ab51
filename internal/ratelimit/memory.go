package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore is an in-process WindowStore for tests and single-node
// deployments.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]time.Time
	now     func() time.Time
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (s *MemoryWindowStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Reserve grants the slot and stamps the window if the cooldown has
// elapsed, otherwise returns the remaining cooldown untouched.
func (s *MemoryWindowStore) Reserve(ctx context.Context, key string, minInterval time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	last, ok := s.windows[key]
	if ok {
		if remaining := minInterval - now.Sub(last); remaining > 0 {
			return remaining, nil
		}
	}

	s.windows[key] = now
	return 0, nil
}
