package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/token"
)

// TokenValidator is the seam Auth needs into the credential manager's
// composed token check (signature + expiry + tenant state), kept narrow
// so tests can substitute a fake verifier.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, tokenString string) (*token.Claims, error)
}

// Auth validates the bearer access token and injects the
// authenticated subject into context. If a tenant was already resolved
// by TenantContext (X-Tenant-ID header), the token's tenant must match
// it exactly; a cross-tenant token is rejected outright rather than
// silently re-scoped.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateAccess(r.Context(), parts[1])
			if err != nil {
				slog.Warn("invalid token", "error", err, "ip", r.RemoteAddr)
				if tagged, ok := apperr.As(err); ok && tagged.ReasonKey == apperr.ReasonTenantSuspended {
					http.Error(w, "tenant suspended", http.StatusForbidden)
					return
				}
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			if ctxTenantID, err := GetTenantID(r.Context()); err == nil {
				if claims.TenantID != ctxTenantID {
					slog.Warn("tenant mismatch", "token_tenant", claims.TenantID, "header_tenant", ctxTenantID)
					http.Error(w, "token does not match requested tenant context", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, EmailKey, claims.Email)
			SetSentryUser(ctx, claims.UserID.String(), claims.Email, r.RemoteAddr)
			SetSentryTenant(ctx, claims.TenantID.String(), "token-derived")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
