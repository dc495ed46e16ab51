// Package events decouples request-facing services from the task queue.
// Services emit task request events without knowing who enqueues them;
// the composition root registers a handler that turns each event into a
// durable queue job. This keeps the API layer free of queue imports and
// makes the handoff observable and testable in isolation.
package events
