package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/api/shared"
)

// OwnerHeader is the request header carrying the caller's owner ID.
// Authentication proper lives in front of this service; the engine only
// needs a trusted owner identity to scope feeds by.
const OwnerHeader = "X-Owner-ID"

// OwnerMiddleware extracts the owner ID from the request header and puts
// it in the context. Requests without a valid owner ID are rejected.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OwnerHeader)
		if raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing owner identity")
			return
		}

		ownerID, err := uuid.Parse(raw)
		if err != nil || ownerID == uuid.Nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid owner identity")
			return
		}

		ctx := context.WithValue(r.Context(), shared.OwnerIDContextKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
