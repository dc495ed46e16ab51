package queue

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a job's kind has no registered handler.
// Always permanent: redelivering such a job cannot help.
var ErrUnknownKind = errors.New("no handler registered for job kind")

// classified wraps an error with its retry classification. Handlers wrap
// failures with Retryable or Permanent at the point where they know which
// taxonomy a failure belongs to; the runner only inspects the wrapper.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string {
	if c.retryable {
		return fmt.Sprintf("retryable: %v", c.err)
	}
	return fmt.Sprintf("permanent: %v", c.err)
}

func (c *classified) Unwrap() error {
	return c.err
}

// Retryable marks err as transient (network timeout, 5xx, 429, connection
// reset). Retryable failures consume the retry budget with backoff.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Permanent marks err as non-retryable (malformed input, permanent 4xx,
// domain policy violation). Permanent failures terminate immediately
// without consuming the retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}

// IsRetryable reports whether err should consume retry budget. Errors
// that carry no classification are treated as retryable: the common
// unclassified failure is transient infrastructure trouble, and the
// attempt cap still bounds the damage when that guess is wrong.
func IsRetryable(err error) bool {
	var c *classified
	if errors.As(err, &c) {
		return c.retryable
	}
	return true
}
