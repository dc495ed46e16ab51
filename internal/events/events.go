package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskRequestEvent is a request to enqueue a background task. It carries
// everything the queue needs without the emitter importing the queue:
// the queue and kind names travel as plain strings.
type TaskRequestEvent struct {
	// ID uniquely identifies this event for log correlation.
	ID uuid.UUID `json:"id"`

	// Queue names the queue the task belongs on.
	Queue string `json:"queue"`

	// Kind names the registered handler for the task.
	Kind string `json:"kind"`

	// Payload is the task payload, opaque to the event layer.
	Payload json.RawMessage `json:"payload"`

	// Priority orders the task among due work; higher runs first.
	Priority int `json:"priority"`

	// DedupeKey, when non-empty, collapses the task onto any pending
	// task with the same key.
	DedupeKey string `json:"dedupe_key,omitempty"`

	// Delay postpones the task's eligibility relative to enqueue time.
	Delay time.Duration `json:"delay"`

	// CreatedAt is when the event was emitted.
	CreatedAt time.Time `json:"created_at"`
}

// NewTaskRequestEvent builds an event for the given queue and kind with a
// JSON-marshalled payload.
func NewTaskRequestEvent(queue, kind string, payload any) (*TaskRequestEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Queue:     queue,
		Kind:      kind,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// WithPriority sets the priority and returns the event for chaining.
func (e *TaskRequestEvent) WithPriority(priority int) *TaskRequestEvent {
	e.Priority = priority
	return e
}

// WithDedupeKey sets the dedupe key and returns the event for chaining.
func (e *TaskRequestEvent) WithDedupeKey(key string) *TaskRequestEvent {
	e.DedupeKey = key
	return e
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler processes emitted events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter publishes events to registered handlers, letting services
// request background work without direct knowledge of the queue.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
