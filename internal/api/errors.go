package api

import (
	"errors"
	"net/http"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/service"
	"github.com/mjarrett/feedforge/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authorization errors
	case errors.Is(err, service.ErrNotOwned):
		return http.StatusForbidden

	// Not found errors
	case store.IsNotFoundError(err),
		errors.Is(err, service.ErrNoPendingRefresh):
		return http.StatusNotFound

	// Conflict errors
	case store.IsDuplicateError(err):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidFeedURL):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal
// details to API clients.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrNotOwned):
		return "You do not own this feed"

	case errors.Is(err, store.ErrFeedNotFound):
		return "Feed not found"

	case errors.Is(err, service.ErrNoPendingRefresh):
		return "No pending refresh to cancel"

	case store.IsNotFoundError(err):
		return "Resource not found"

	case store.IsDuplicateError(err):
		return "Feed already exists"

	case errors.Is(err, domain.ErrInvalidFeedURL):
		return "Feed URL must be a valid absolute URL"

	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation):
		return "Invalid request"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid identifier format"

	default:
		return "An unexpected error occurred"
	}
}
