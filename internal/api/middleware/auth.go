package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/ricirt/marketplace-realtime/internal/auth"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

const identityKey contextKey = "identity"

// Authenticator verifies a bearer credential.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*domain.Identity, error)
}

// Authenticate rejects requests without a valid bearer credential and stores
// the resolved identity on the request context.
func Authenticate(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.TokenFromRequest(r)
			var id *domain.Identity
			if err == nil {
				id, err = authn.Authenticate(r.Context(), raw)
			}
			if err != nil {
				var authErr *auth.Error
				if errors.As(err, &authErr) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication failed", "reason": authErr.Reason})
					return
				}
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil || !id.HasRole(role) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentity returns the identity stored by Authenticate, or nil.
func GetIdentity(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(identityKey).(*domain.Identity)
	return id
}
