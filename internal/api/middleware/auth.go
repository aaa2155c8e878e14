package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/notifyhub/torque-notifications/internal/auth"
)

// BearerAuth rejects requests without a valid HS256 bearer token signed
// with secret. An empty secret disables the check.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := auth.FromHeader(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err)
				return
			}
			claims, err := auth.Verify(secret, tok)
			if err != nil {
				unauthorized(w, auth.ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// GetClaims returns the verified token claims, or nil when auth is disabled.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="notifications"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
