package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/redact"
)

// RunnerConfig holds configuration for the queue runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs.
	WorkerCount int

	// PollInterval determines how often the claim loop polls for due jobs
	// when the queue is idle.
	PollInterval time.Duration

	// VisibilityTimeout defines how long a job may stay claimed before
	// the stuck monitor assumes its worker died and redelivers it. It
	// must exceed the worst-case handler run time.
	VisibilityTimeout time.Duration

	// StuckCheckInterval defines how often to check for stuck jobs.
	// If zero, defaults to one minute.
	StuckCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        4,
		PollInterval:       time.Second,
		VisibilityTimeout:  5 * time.Minute,
		StuckCheckInterval: time.Minute,
	}
}

// Runner pulls due jobs from the store and executes them on a pool of
// worker goroutines. Acknowledgement is late: a job row is only removed
// after its handler returns, so a worker that disappears mid-task causes
// redelivery via the stuck monitor, and handlers must be idempotent.
type Runner struct {
	store      JobStore
	registry   *Registry
	jobChan    chan *Job
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger
	inFlight   atomic.Int64
}

// NewRunner creates a new Runner.
func NewRunner(store JobStore, registry *Registry, config RunnerConfig, log *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.StuckCheckInterval == 0 {
		config.StuckCheckInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:      store,
		registry:   registry,
		jobChan:    make(chan *Job),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     log.With(slog.String("component", "queue_runner")),
	}
}

// Start launches the claim loop, the worker pool and the stuck monitor.
func (r *Runner) Start() {
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.claimLoop()

	r.wg.Add(1)
	go r.stuckMonitor()

	r.logger.Info("queue runner started",
		slog.Int("worker_count", r.config.WorkerCount),
		slog.Duration("poll_interval", r.config.PollInterval))
}

// Stop gracefully shuts down the runner, waiting for in-flight handlers.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("queue runner stopped")
}

// InFlight reports how many handlers are currently executing.
func (r *Runner) InFlight() int64 {
	return r.inFlight.Load()
}

// claimLoop repeatedly claims due jobs and feeds them to the workers.
// An unbuffered hand-off keeps at most WorkerCount jobs claimed at once.
func (r *Runner) claimLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := r.store.Claim(r.ctx, time.Now().UTC(), r.config.WorkerCount)
		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Error("failed to claim due jobs", "error", err)
			}
			continue
		}

		for _, job := range jobs {
			select {
			case r.jobChan <- job:
			case <-r.ctx.Done():
				// Shutdown with a claimed job in hand: leave it to the
				// stuck monitor of the next process.
				return
			}
		}
	}
}

// worker processes jobs handed over by the claim loop.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case job := <-r.jobChan:
			r.processJob(job, id)
		}
	}
}

// processJob executes one job and settles it according to the outcome and
// the queue's retry policy.
func (r *Runner) processJob(job *Job, workerID int) {
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	log := r.logger.With(
		slog.String("task_id", job.ID.String()),
		slog.String("kind", string(job.Kind)),
		slog.String("queue", string(job.Queue)),
		slog.Int("attempt", job.Attempts+1),
		slog.Int("worker_id", workerID),
	)

	ctx := logger.WithLogger(r.ctx, log)

	start := time.Now()
	err := r.executeJob(ctx, job)
	duration := time.Since(start)

	if err == nil {
		log.Info("job completed",
			slog.Duration("duration", duration),
			slog.Bool("success", true))
		if ackErr := r.store.Complete(ctx, job.ID); ackErr != nil {
			log.Error("failed to acknowledge completed job", "error", ackErr)
		}
		return
	}

	lastError := redact.Error(err)
	attempts := job.Attempts + 1
	policy := r.registry.Policy(job.Queue)

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}

	retryable := IsRetryable(err)
	if retryable && attempts < maxAttempts {
		delay := policy.NextDelay(attempts)
		log.Warn("job failed, scheduling retry",
			slog.Duration("duration", duration),
			slog.Bool("success", false),
			slog.String("error", lastError),
			slog.Duration("retry_in", delay))
		if retryErr := r.store.Retry(ctx, job.ID, time.Now().UTC().Add(delay), lastError); retryErr != nil {
			log.Error("failed to reschedule job", "error", retryErr)
		}
		return
	}

	log.Error("job failed terminally",
		slog.Duration("duration", duration),
		slog.Bool("success", false),
		slog.Bool("retryable", retryable),
		slog.String("error", lastError))
	if failErr := r.store.Fail(ctx, job.ID, lastError); failErr != nil {
		log.Error("failed to mark job dead", "error", failErr)
	}
}

// executeJob dispatches to the registered handler, converting panics into
// retryable errors so a buggy handler cannot take the worker down.
func (r *Runner) executeJob(ctx context.Context, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Retryable(fmt.Errorf("handler panicked: %v", p))
		}
	}()

	handler, err := r.registry.Handler(job.Kind)
	if err != nil {
		return Permanent(err)
	}

	return handler(ctx, job)
}

// stuckMonitor periodically returns jobs whose claim outlived the
// visibility timeout back to pending. This is the redelivery path for
// workers that crashed between claim and acknowledgement.
func (r *Runner) stuckMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := r.store.ReclaimStuck(r.ctx, r.config.VisibilityTimeout)
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Error("failed to reclaim stuck jobs", "error", err)
				}
				continue
			}
			if reclaimed > 0 {
				r.logger.Info("reclaimed stuck jobs", slog.Int("count", reclaimed))
			}
		}
	}
}
