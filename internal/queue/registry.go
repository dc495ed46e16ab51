package queue

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc executes one job. Returning nil acknowledges the job;
// returning an error triggers the queue's retry policy according to the
// error's classification (see Retryable and Permanent).
type HandlerFunc func(ctx context.Context, job *Job) error

// Registry is the static dispatch table from job kind to handler. All
// registrations happen during startup wiring, before the runner starts;
// registering the same kind twice is a programming error.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
	policies map[Name]RetryPolicy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Kind]HandlerFunc),
		policies: make(map[Name]RetryPolicy),
	}
}

// Register binds a handler to a job kind.
func (r *Registry) Register(kind Kind, handler HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}

	r.handlers[kind] = handler
	return nil
}

// MustRegister is Register for startup wiring paths where a duplicate
// registration is unrecoverable.
func (r *Registry) MustRegister(kind Kind, handler HandlerFunc) {
	if err := r.Register(kind, handler); err != nil {
		// ALLOW-PANIC: startup wiring bug, not a runtime condition
		panic(err)
	}
}

// SetPolicy assigns a retry policy to a queue. Queues without an explicit
// policy use DefaultRetryPolicy.
func (r *Registry) SetPolicy(queueName Name, policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[queueName] = policy
}

// Handler looks up the handler for a kind.
func (r *Registry) Handler(kind Kind) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return handler, nil
}

// Policy returns the retry policy for a queue.
func (r *Registry) Policy(queueName Name) RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if policy, ok := r.policies[queueName]; ok {
		return policy
	}
	return DefaultRetryPolicy
}
