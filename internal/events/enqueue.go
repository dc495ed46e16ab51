package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mjarrett/feedforge/internal/platform/logger"
	"github.com/mjarrett/feedforge/internal/queue"
)

// EnqueueHandler turns task request events into durable queue jobs. It is
// the single bridge between the event layer and the queue, registered by
// the composition root.
type EnqueueHandler struct {
	jobs   queue.JobStore
	logger *slog.Logger
}

// NewEnqueueHandler creates an EnqueueHandler over the given job store.
func NewEnqueueHandler(jobs queue.JobStore, log *slog.Logger) *EnqueueHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EnqueueHandler{
		jobs:   jobs,
		logger: log.With(slog.String("component", "enqueue_handler")),
	}
}

// HandleEvent enqueues the task described by the event.
func (h *EnqueueHandler) HandleEvent(ctx context.Context, event *TaskRequestEvent) error {
	job, err := queue.NewJob(queue.Name(event.Queue), queue.Kind(event.Kind), event.Payload, event.Delay)
	if err != nil {
		return fmt.Errorf("failed to build job from event: %w", err)
	}
	job.WithPriority(event.Priority)
	if event.DedupeKey != "" {
		job.WithDedupeKey(event.DedupeKey)
	}

	if err := h.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue job from event: %w", err)
	}

	logger.FromContextOrDefault(ctx, h.logger).Debug("event enqueued as job",
		slog.String("event_id", event.ID.String()),
		slog.String("kind", event.Kind),
		slog.String("queue", event.Queue))
	return nil
}
