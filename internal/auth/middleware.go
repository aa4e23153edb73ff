package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/velobill/authgate/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

// PrincipalContextKey is the key for storing the resolved principal in context
const PrincipalContextKey contextKey = "principal"

// Principal is the authenticated identity attached to a request. Downstream
// consumers only see account identity and session expiry, never credentials.
type Principal struct {
	Account *models.Account
	Session *models.Session
}

// SessionResolver turns a bearer token back into a principal
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.Account, *models.Session, error)
}

// RequireSession validates the Authorization bearer token against the session
// store and injects the principal into the request context. Resolution fails
// closed: revoked, expired, and unknown tokens are all rejected identically.
func RequireSession(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
				return
			}

			account, session, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					http.Error(w, "unable to verify session", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			principal := &Principal{Account: account, Session: session}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization: Bearer header
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// PrincipalFromContext retrieves the authenticated principal from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return principal, ok
}
