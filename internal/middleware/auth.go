package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatrelay/internal/auth"
)

// BearerAuth verifies the Authorization: Bearer token and puts the resulting
// user_id into the request context. Missing or unverifiable tokens get 401
// before any handler runs, so a WebSocket upgrade is never attempted for an
// unauthenticated caller.
func BearerAuth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			userID, err := verifier.Verify(r.Context(), token)
			if err != nil || userID == "" {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}

// bearerToken extracts the token from the Authorization header, falling back
// to the ?token= query parameter (the browser WebSocket API cannot set
// headers).
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		const prefix = "Bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return ""
		}
		return strings.TrimSpace(h[len(prefix):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
