// Package service provides application-level services for managing feeds
// and their refresh lifecycle.
package service

import (
	"errors"
	"fmt"
)

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in service-specific error types
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrNotOwned indicates a resource is owned by a different user than
	// the one making the request. API layer maps this to HTTP 403.
	ErrNotOwned = errors.New("resource is owned by another user")

	// ErrNoPendingRefresh indicates there is no pending refresh to cancel
	// for the feed. A refresh that is already running cannot be cancelled;
	// its lease expires on its own. API layer maps this to HTTP 404.
	ErrNoPendingRefresh = errors.New("no pending refresh for feed")
)

// FeedServiceError is a custom error type for feed service errors.
type FeedServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for FeedServiceError.
func (e *FeedServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("feed service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *FeedServiceError) Unwrap() error {
	return e.Err
}

// NewFeedServiceError creates a new FeedServiceError.
func NewFeedServiceError(operation, message string, err error) *FeedServiceError {
	return &FeedServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
