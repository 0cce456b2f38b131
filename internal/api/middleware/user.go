package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the requesting user's ID.
const UserIDKey contextKey = "user_id"

// DefaultUserID is assumed when no user identity is supplied. Single-user
// deployments never send the header.
const DefaultUserID = "demo-user"

// UserExtractor resolves the requesting user from the X-User-Id header or
// the user query parameter, falling back to DefaultUserID.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if user == "" {
			user = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if user == "" {
			user = DefaultUserID
		}
		ctx := context.WithValue(r.Context(), UserIDKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID retrieves the user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return DefaultUserID
}
