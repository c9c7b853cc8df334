package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ndelin/aide/internal/domain"
)

type contextKey int

const userKey contextKey = iota

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if u, ok := ctx.Value(userKey).(*domain.User); ok {
		return u
	}
	return nil
}

// ContextWithUser attaches an authenticated user to the context.
func ContextWithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// Middleware authenticates API requests and injects the resolved user
// into the request context.
func Middleware(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), CredentialFromRequest(r))
			if err != nil {
				status := http.StatusUnauthorized
				msg := err.Error()
				if !isAuthError(err) {
					status = http.StatusInternalServerError
					msg = "authentication backend unavailable"
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				fmt.Fprintf(w, `{"error":%q}`, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// isAuthError reports whether err carries a client-safe rejection reason.
func isAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrInvalidCredential)
}
