package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// PostgresJobStore implements the queue.JobStore interface using a
// PostgreSQL database as the storage backend. Claiming relies on
// FOR UPDATE SKIP LOCKED so that concurrent workers never receive the
// same job twice; dedupe-replace rides on a partial unique index over
// pending dedupe keys.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements queue.JobStore interface
var _ queue.JobStore = (*PostgresJobStore)(nil)

const jobColumns = `id, queue, kind, payload, priority, not_before, attempts,
	max_attempts, dedupe_key, status, last_error, claimed_at, created_at, updated_at`

// Enqueue implements queue.JobStore.Enqueue
// A job carrying a dedupe key replaces the pending job with the same key
// in place: new payload, eligibility and priority, attempt counter reset,
// identity preserved. The conflict target is the partial unique index over
// (dedupe_key) WHERE status = 'pending'.
func (s *PostgresJobStore) Enqueue(ctx context.Context, job *queue.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if job.DedupeKey == "" {
		query := `
			INSERT INTO jobs (` + jobColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10, $11, $12, $13)
		`
		_, err := s.db.ExecContext(
			ctx,
			query,
			job.ID,
			string(job.Queue),
			string(job.Kind),
			[]byte(job.Payload),
			job.Priority,
			job.NotBefore,
			job.Attempts,
			job.MaxAttempts,
			string(queue.JobStatusPending),
			job.LastError,
			job.ClaimedAt,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			log.Error("failed to enqueue job",
				slog.String("error", err.Error()),
				slog.String("job_id", job.ID.String()),
				slog.String("kind", string(job.Kind)))
			return MapError(err)
		}
		return nil
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dedupe_key) WHERE status = 'pending'
		DO UPDATE SET
			queue = EXCLUDED.queue,
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			priority = EXCLUDED.priority,
			not_before = EXCLUDED.not_before,
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			last_error = '',
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		string(job.Queue),
		string(job.Kind),
		[]byte(job.Payload),
		job.Priority,
		job.NotBefore,
		job.Attempts,
		job.MaxAttempts,
		job.DedupeKey,
		string(queue.JobStatusPending),
		job.LastError,
		job.ClaimedAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue deduplicated job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()),
			slog.String("dedupe_key", job.DedupeKey))
		return MapError(err)
	}
	return nil
}

// Cancel implements queue.JobStore.Cancel
// Returns store.ErrJobNotFound when no pending job carries the key.
func (s *PostgresJobStore) Cancel(ctx context.Context, dedupeKey string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE dedupe_key = $1 AND status = 'pending'`, dedupeKey)
	if err != nil {
		log.Error("failed to cancel job",
			slog.String("error", err.Error()),
			slog.String("dedupe_key", dedupeKey))
		return MapError(err)
	}

	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// Claim implements queue.JobStore.Claim
// Jobs are claimed highest priority first, then oldest eligibility.
// SKIP LOCKED guarantees that two workers polling concurrently carve up
// the due set instead of blocking on or double-claiming the same rows.
func (s *PostgresJobStore) Claim(ctx context.Context, now time.Time, limit int) ([]*queue.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = 'running', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND not_before <= $1
			ORDER BY priority DESC, not_before ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := s.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		log.Error("failed to claim jobs", slog.String("error", err.Error()))
		return nil, err
	}
	defer closeRows(rows, log)

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Error("failed to scan claimed job", slog.String("error", err.Error()))
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete implements queue.JobStore.Complete
// The acknowledged row is deleted; succeeded jobs leave no trace.
func (s *PostgresJobStore) Complete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// Retry implements queue.JobStore.Retry
func (s *PostgresJobStore) Retry(ctx context.Context, id uuid.UUID, notBefore time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'pending', claimed_at = NULL, attempts = attempts + 1,
			not_before = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, notBefore, lastError, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrJobNotFound)
}

// Fail implements queue.JobStore.Fail
// Dead jobs are kept for observability until purged.
func (s *PostgresJobStore) Fail(ctx context.Context, id uuid.UUID, lastError string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = 'dead', claimed_at = NULL, attempts = attempts + 1,
			last_error = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, lastError, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to mark job dead",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrJobNotFound); err != nil {
		return err
	}

	log.Warn("job moved to dead set",
		slog.String("job_id", id.String()),
		slog.String("last_error", lastError))
	return nil
}

// ReclaimStuck implements queue.JobStore.ReclaimStuck
func (s *PostgresJobStore) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		UPDATE jobs
		SET status = 'pending', claimed_at = NULL, updated_at = $1
		WHERE status = 'running' AND claimed_at < $2
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), cutoff)
	if err != nil {
		log.Error("failed to reclaim stuck jobs", slog.String("error", err.Error()))
		return 0, err
	}

	reclaimed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		log.Warn("reclaimed stuck jobs", slog.Int64("count", reclaimed))
	}
	return int(reclaimed), nil
}

// Depth implements queue.JobStore.Depth
func (s *PostgresJobStore) Depth(ctx context.Context) (map[queue.Name]queue.QueueDepth, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx,
		`SELECT queue, status, COUNT(*) FROM jobs GROUP BY queue, status`)
	if err != nil {
		log.Error("failed to query queue depths", slog.String("error", err.Error()))
		return nil, err
	}
	defer closeRows(rows, log)

	depths := make(map[queue.Name]queue.QueueDepth)
	for rows.Next() {
		var queueName, status string
		var count int
		if err := rows.Scan(&queueName, &status, &count); err != nil {
			return nil, err
		}

		depth := depths[queue.Name(queueName)]
		switch queue.JobStatus(status) {
		case queue.JobStatusPending:
			depth.Pending = count
		case queue.JobStatusRunning:
			depth.Running = count
		case queue.JobStatusDead:
			depth.Dead = count
		}
		depths[queue.Name(queueName)] = depth
	}
	return depths, rows.Err()
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var job queue.Job
	var queueName, kind, status string
	var payload []byte
	var dedupeKey, lastError sql.NullString
	var claimedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&queueName,
		&kind,
		&payload,
		&job.Priority,
		&job.NotBefore,
		&job.Attempts,
		&job.MaxAttempts,
		&dedupeKey,
		&status,
		&lastError,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Queue = queue.Name(queueName)
	job.Kind = queue.Kind(kind)
	job.Payload = payload
	job.DedupeKey = dedupeKey.String
	job.Status = queue.JobStatus(status)
	job.LastError = lastError.String
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	return &job, nil
}
