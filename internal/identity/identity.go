// Package identity carries the authenticated user id issued by the identity
// service. Services behind the gateway trust the header and never re-verify it.
package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const Header = "X-User-ID"

type ctxKey struct{}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Require rejects requests without a user id and stores it on the request context.
func Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(Header))
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing user identity"})
			return
		}
		next(w, r.WithContext(WithUserID(r.Context(), userID)))
	}
}

// Propagate copies the user id from ctx onto an outbound request.
func Propagate(ctx context.Context, req *http.Request) {
	if id, ok := UserID(ctx); ok {
		req.Header.Set(Header, id)
	}
}
