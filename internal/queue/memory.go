package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/store"
)

// MemoryJobStore is an in-process JobStore implementation with the same
// semantics as the Postgres one. It backs engine tests and makes the
// queue usable without a database in development.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[uuid.UUID]*Job),
		now:  time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (s *MemoryJobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue inserts the job, replacing any pending job with the same dedupe key.
func (s *MemoryJobStore) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.DedupeKey != "" {
		for _, existing := range s.jobs {
			if existing.Status == JobStatusPending && existing.DedupeKey == job.DedupeKey {
				// Replace in place: new payload, eligibility and priority,
				// attempt counter reset, identity preserved.
				existing.Queue = job.Queue
				existing.Kind = job.Kind
				existing.Payload = job.Payload
				existing.Priority = job.Priority
				existing.NotBefore = job.NotBefore
				existing.Attempts = 0
				existing.MaxAttempts = job.MaxAttempts
				existing.LastError = ""
				existing.UpdatedAt = s.now().UTC()
				return nil
			}
		}
	}

	clone := *job
	clone.Status = JobStatusPending
	s.jobs[job.ID] = &clone
	return nil
}

// Cancel removes the pending job with the given dedupe key.
func (s *MemoryJobStore) Cancel(ctx context.Context, dedupeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.Status == JobStatusPending && job.DedupeKey == dedupeKey {
			delete(s.jobs, id)
			return nil
		}
	}

	return store.ErrJobNotFound
}

// Claim marks up to limit due pending jobs as running and returns copies.
func (s *MemoryJobStore) Claim(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, job := range s.jobs {
		if job.Status == JobStatusPending && !job.NotBefore.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NotBefore.Before(due[j].NotBefore)
	})

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, job := range due {
		at := s.now().UTC()
		job.Status = JobStatusRunning
		job.ClaimedAt = &at
		clone := *job
		claimed = append(claimed, &clone)
	}

	return claimed, nil
}

// Complete acknowledges a job: the row is deleted.
func (s *MemoryJobStore) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Retry returns a claimed job to pending with incremented attempts.
func (s *MemoryJobStore) Retry(ctx context.Context, id uuid.UUID, notBefore time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}

	job.Status = JobStatusPending
	job.ClaimedAt = nil
	job.Attempts++
	job.NotBefore = notBefore
	job.LastError = lastError
	job.UpdatedAt = s.now().UTC()
	return nil
}

// Fail terminally marks a claimed job dead.
func (s *MemoryJobStore) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}

	job.Status = JobStatusDead
	job.ClaimedAt = nil
	job.Attempts++
	job.LastError = lastError
	job.UpdatedAt = s.now().UTC()
	return nil
}

// ReclaimStuck returns running jobs claimed longer ago than olderThan to pending.
func (s *MemoryJobStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-olderThan)
	reclaimed := 0
	for _, job := range s.jobs {
		if job.Status == JobStatusRunning && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.Status = JobStatusPending
			job.ClaimedAt = nil
			job.UpdatedAt = s.now().UTC()
			reclaimed++
		}
	}

	return reclaimed, nil
}

// Depth reports per-queue counts.
func (s *MemoryJobStore) Depth(ctx context.Context) (map[Name]QueueDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[Name]QueueDepth)
	for _, job := range s.jobs {
		depth := depths[job.Queue]
		switch job.Status {
		case JobStatusPending:
			depth.Pending++
		case JobStatusRunning:
			depth.Running++
		case JobStatusDead:
			depth.Dead++
		}
		depths[job.Queue] = depth
	}

	return depths, nil
}

// PendingByDedupeKey returns a copy of the pending job carrying the given
// dedupe key, for tests and introspection.
func (s *MemoryJobStore) PendingByDedupeKey(dedupeKey string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Status == JobStatusPending && job.DedupeKey == dedupeKey {
			clone := *job
			return &clone, true
		}
	}
	return nil, false
}

// Len reports how many job rows exist in any status.
func (s *MemoryJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
