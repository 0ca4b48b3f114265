package api

import (
	"context"
	"net/http"
)

// headerUserID carries the caller's identity. Authentication proper
// (tokens, sessions) sits in front of this service; the header is
// trusted as-is.
const headerUserID = "X-User-Id"

type contextKey string

const userIDKey contextKey = "userID"

// authMiddleware rejects requests without an identity header and makes
// the user id available to handlers through the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			http.Error(w, "missing X-User-Id header", http.StatusUnauthorized)

			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user id, or "" for a
// request that bypassed the middleware.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)

	return userID
}
