package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/circle/backend/internal/logging"
	"github.com/circle/backend/internal/models"
)

// TokenVerifier validates a bearer access token.
type TokenVerifier interface {
	Verify(accessToken string) (models.Identity, error)
}

type identityKey struct{}

// WithIdentity stores the authenticated caller on ctx.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller stored by Authenticate.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.Identity)
	return identity, ok && identity.UserID > 0
}

// Authenticate rejects requests without a valid bearer token with 401 and
// passes the verified identity to next.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}

			identity, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				unauthorized(w, r, "invalid or expired access token")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			ctx = logging.WithUser(ctx, identity.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("unauthenticated request", "reason", message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="circle"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"kind":"unauthenticated","message":"` + message + `"}}`))
}
