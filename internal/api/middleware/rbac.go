package middleware

import (
	"log/slog"
	"net/http"

	"github.com/veltrix/authzcore/internal/authz"
)

// RequireCapability builds a middleware that denies the request unless
// authz.Engine.Evaluate allows capKey for the authenticated subject
// against the request's resource. resourceOf extracts the
// resource attributes (owner, org node) from the request; pass nil for
// endpoints with no resource-scoped check (tenant-wide capabilities).
// Requires Auth to have run first.
func RequireCapability(engine *authz.Engine, capKey string, resourceOf func(r *http.Request) authz.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := GetUserID(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			tenantID, err := GetTenantID(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var resource authz.Resource
			if resourceOf != nil {
				resource = resourceOf(r)
			}

			decision, err := engine.Evaluate(r.Context(), authz.Subject{UserID: userID, TenantID: tenantID}, capKey, resource)
			if err != nil {
				slog.Error("authz evaluate failed", "error", err, "capability", capKey)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !decision.Allow {
				slog.Warn("authz denied", "capability", capKey, "reason", decision.ReasonKey, "user_id", userID)
				http.Error(w, "forbidden: "+decision.ReasonKey, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
