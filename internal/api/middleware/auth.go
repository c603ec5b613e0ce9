package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edvin/messaging/internal/api/response"
	"github.com/edvin/messaging/internal/core"
	"github.com/edvin/messaging/internal/model"
)

type contextKey string

const identityKey contextKey = "token_identity"

// Identity is the authenticated caller's validated token.
type Identity struct {
	Token *model.Token
}

// GetIdentity returns the identity stored by Auth, or nil.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// WithIdentity injects an identity into the context. Used by tests.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Auth validates the bearer token and stores the caller's identity. Browsers
// cannot set headers on websocket upgrades, so the access_token query
// parameter is accepted as a fallback.
func Auth(tokens *core.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := bearerToken(r)
			if bearer == "" {
				response.WriteError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
				return
			}

			token, err := tokens.Authenticate(r.Context(), bearer)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid_token", "token is not valid")
				return
			}

			ctx := WithIdentity(r.Context(), &Identity{Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers whose token lacks the given scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil || !id.Token.HasScope(scope) {
				response.WriteError(w, http.StatusForbidden, "insufficient_scope", "token is missing the "+scope+" scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
