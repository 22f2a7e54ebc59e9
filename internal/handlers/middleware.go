package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/fileshare/apiserver/internal/services"
	"github.com/fileshare/apiserver/internal/store"
)

// requireRole loads the authenticated user and rejects requests from users
// without the given role. It must run after requireAuth.
func requireRole(userService *services.UserService, role, forbidden string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := userService.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusUnauthorized, "user account is disabled")
				return
			}

			if user.Role != role {
				writeError(w, http.StatusForbidden, forbidden)
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
