package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/security"
	"github.com/coursiva/auth-service/internal/store"
)

type contextKey string

const credentialContextKey contextKey = "credential"

// AuthMiddleware validates the bearer session token, hydrates the credential
// (with its secret stripped) and attaches it to the request context. A
// missing or deactivated account fails even when the token itself is valid.
func AuthMiddleware(sessions *security.SessionService, users store.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			session, err := sessions.ValidateSession(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			cred, err := users.FindByID(r.Context(), session.UserID)
			if err != nil || !cred.IsActive {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			// Hydrated credentials never carry the secret downstream.
			cred.PasswordHash = ""

			if session.RefreshSuggested {
				w.Header().Set("X-Session-Refresh-Suggested", "true")
			}

			ctx := context.WithValue(r.Context(), credentialContextKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route to an allow-set of roles. Ownership and
// enrollment checks live with the services that own those resources.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := CredentialFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			if !allowed[cred.Role] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CredentialFromContext returns the hydrated credential attached by
// AuthMiddleware.
func CredentialFromContext(ctx context.Context) (*domain.Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey).(*domain.Credential)
	return cred, ok
}

func bearerToken(authHeader string) (string, bool) {
	authHeader = strings.TrimSpace(authHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
