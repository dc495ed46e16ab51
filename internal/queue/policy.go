package queue

import (
	"math/rand"
	"time"
)

// RetryPolicy controls how a queue reschedules retryable failures.
type RetryPolicy struct {
	// MaxAttempts caps total executions of one job, first run included.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// Exponential doubles the delay on every further attempt when set;
	// otherwise every retry waits InitialDelay.
	Exponential bool

	// BackoffCap bounds the delay growth. Zero means uncapped.
	BackoffCap time.Duration

	// Jitter adds up to 25% random slack to each delay to avoid
	// synchronized retry storms.
	Jitter bool
}

// DefaultRetryPolicy is used by queues without an explicit policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  5,
	InitialDelay: 30 * time.Second,
	Exponential:  true,
	BackoffCap:   15 * time.Minute,
	Jitter:       true,
}

// NextDelay computes the delay before the given retry. attempt counts the
// executions already performed, so the first retry passes attempt=1.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.InitialDelay
	if p.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if p.BackoffCap > 0 && delay >= p.BackoffCap {
				delay = p.BackoffCap
				break
			}
		}
	}

	if p.BackoffCap > 0 && delay > p.BackoffCap {
		delay = p.BackoffCap
	}

	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}

	return delay
}
