package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation. It backs tests and
// single-node deployments where no Redis is configured.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

type memoryLease struct {
	token  string
	expiry time.Time
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Acquire sets the lease only if the key has no active, non-expired lease.
func (s *MemoryStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.leases[key]; ok && existing.expiry.After(now) {
		return false, nil
	}

	s.leases[key] = memoryLease{token: token, expiry: now.Add(ttl)}
	return true, nil
}

// Release deletes the lease only if its current holder token matches.
func (s *MemoryStore) Release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[key]
	if !ok || !existing.expiry.After(s.now()) || existing.token != token {
		return ErrNotHeld
	}

	delete(s.leases, key)
	return nil
}

// TTLRemaining reports how long the current lease on key has left.
func (s *MemoryStore) TTLRemaining(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[key]
	if !ok {
		return 0, ErrNoLease
	}

	remaining := existing.expiry.Sub(s.now())
	if remaining <= 0 {
		return 0, ErrNoLease
	}

	return remaining, nil
}
