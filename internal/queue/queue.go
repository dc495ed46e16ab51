// Package queue implements the durable task queue of the ingestion engine:
// persisted work items with delay, priority, dedupe-replace enqueue,
// retry with backoff, and late acknowledgement. Workers pull due jobs from
// named queues and dispatch them to statically registered handlers.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Name identifies a named queue. Each queue carries its own retry policy.
type Name string

// The engine's queues.
const (
	// QueueRefresh carries feed refresh and star sync jobs. Immediate
	// (user-triggered) refreshes are enqueued here with elevated priority.
	QueueRefresh Name = "refresh"

	// QueuePipeline carries per-item stage jobs and chord callbacks.
	QueuePipeline Name = "pipeline"
)

// Kind identifies the handler for a job. Kinds are registered in a static
// table at startup; an unregistered kind is a permanent failure.
type Kind string

// JobStatus represents the current state of a queued job.
type JobStatus string

// Possible job status values. Succeeded jobs are deleted rather than
// stored; dead jobs are kept for observability until purged.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDead    JobStatus = "dead"
)

// Priority levels. Higher runs first among due jobs.
const (
	PriorityNormal   = 0
	PriorityElevated = 10
)

// Job is the envelope of one durable work item. The payload is opaque to
// the queue; handlers decode it themselves.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Queue       Name            `json:"queue"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	NotBefore time.Time `json:"not_before"`
	Attempts  int       `json:"attempts"`

	// MaxAttempts caps retries for this job alone. Zero means the
	// queue's retry policy decides at execution time, so a policy
	// change applies to jobs already enqueued.
	MaxAttempts int `json:"max_attempts"`

	// DedupeKey, when non-empty, makes enqueue idempotent: a later
	// enqueue with the same key replaces the pending job instead of
	// creating a duplicate.
	DedupeKey string `json:"dedupe_key,omitempty"`

	Status    JobStatus  `json:"status"`
	LastError string     `json:"last_error,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewJob builds a pending job for the given queue and kind. The payload is
// marshalled to JSON; delay postpones eligibility relative to now.
func NewJob(queueName Name, kind Kind, payload any, delay time.Duration) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Queue:     queueName,
		Kind:      kind,
		Payload:   data,
		Priority:  PriorityNormal,
		NotBefore: now.Add(delay),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// WithPriority sets the job priority and returns the job for chaining.
func (j *Job) WithPriority(priority int) *Job {
	j.Priority = priority
	return j
}

// WithDedupeKey sets the dedupe key and returns the job for chaining.
func (j *Job) WithDedupeKey(key string) *Job {
	j.DedupeKey = key
	return j
}

// UnmarshalPayload decodes the job payload into the provided structure.
func (j *Job) UnmarshalPayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// JobStore defines the interface for persisting queue jobs. All mutations
// are single-round-trip atomic operations; Claim must guarantee that no
// job is handed to two workers at once.
type JobStore interface {
	// Enqueue inserts the job. If the job carries a dedupe key and a
	// pending job with the same key exists, that job is replaced in place
	// (payload, delay, priority reset) instead of inserting a duplicate.
	Enqueue(ctx context.Context, job *Job) error

	// Cancel removes the pending job with the given dedupe key.
	// Returns ErrJobNotFound equivalent (store.ErrJobNotFound) when no
	// pending job carries the key.
	Cancel(ctx context.Context, dedupeKey string) error

	// Claim atomically marks up to limit due pending jobs as running and
	// returns them, highest priority first, then oldest eligibility.
	Claim(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// Complete acknowledges a job after its handler returned: the row is
	// deleted. Late ack by construction; a worker crash before Complete
	// leaves the job claimed until the stuck monitor reclaims it.
	Complete(ctx context.Context, id uuid.UUID) error

	// Retry returns a claimed job to pending with an incremented attempt
	// counter, the given eligibility time and a bounded error string.
	Retry(ctx context.Context, id uuid.UUID, notBefore time.Time, lastError string) error

	// Fail terminally marks a claimed job dead with the given error.
	Fail(ctx context.Context, id uuid.UUID, lastError string) error

	// ReclaimStuck returns running jobs whose claim is older than the
	// given age back to pending, and reports how many were reclaimed.
	// This redelivers work whose worker disappeared mid-task.
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error)

	// Depth reports per-queue pending and running counts for health
	// endpoints.
	Depth(ctx context.Context) (map[Name]QueueDepth, error)
}

// QueueDepth is a point-in-time size reading of one queue.
type QueueDepth struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Dead    int `json:"dead"`
}
