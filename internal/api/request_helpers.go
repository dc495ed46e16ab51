package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/api/shared"
	"github.com/mjarrett/feedforge/internal/domain"
)

// getOwnerIDFromContext extracts the requesting owner's UUID from the
// request context, where the owner middleware placed it.
func getOwnerIDFromContext(r *http.Request) (uuid.UUID, bool) {
	ownerID, ok := r.Context().Value(shared.OwnerIDContextKey).(uuid.UUID)
	if !ok || ownerID == uuid.Nil {
		return uuid.Nil, false
	}
	return ownerID, true
}

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%s is required: %w", paramName, domain.ErrValidation)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s has invalid format: %w", paramName, domain.ErrInvalidID)
	}
	return id, nil
}

// requireOwnerAndFeedID extracts the owner from the context and the feed
// ID from the path, writing the error response itself when either is
// missing. The bool reports whether the handler may proceed.
func requireOwnerAndFeedID(w http.ResponseWriter, r *http.Request) (ownerID, feedID uuid.UUID, ok bool) {
	ownerID, ok = getOwnerIDFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner identity")
		return uuid.Nil, uuid.Nil, false
	}

	feedID, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, feedID, true
}
