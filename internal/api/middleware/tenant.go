package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veltrix/authzcore/internal/storage"
)

// TenantContext wraps every request in a single database transaction
// and, when the X-Tenant-ID header is present, sets app.current_tenant
// for Row Level Security before installing a scoped Queries handle in
// context. Requests without the header run without tenant
// scoping, so public endpoints (health, login, register, service
// trust) keep working. The whole handler executes inside the
// transaction; a 4xx/5xx response rolls it back, otherwise it commits.
func TenantContext(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantIDStr := r.Header.Get("X-Tenant-ID")

			run := func(fn func(q *storage.Queries) error) error {
				return storage.WithoutRLS(r.Context(), pool, fn)
			}
			var tenantID uuid.UUID
			if tenantIDStr != "" {
				id, err := uuid.Parse(tenantIDStr)
				if err != nil {
					slog.Warn("invalid tenant id header", "value", tenantIDStr, "ip", r.RemoteAddr)
					http.Error(w, "invalid tenant id", http.StatusBadRequest)
					return
				}
				tenantID = id
				run = func(fn func(q *storage.Queries) error) error {
					return storage.WithTenantScope(r.Context(), pool, tenantID, fn)
				}
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			err := run(func(q *storage.Queries) error {
				ctx := context.WithValue(r.Context(), QueriesKey, q)
				if tenantIDStr != "" {
					ctx = context.WithValue(ctx, TenantIDKey, tenantID)
					SetSentryTenant(ctx, tenantID.String(), "header-provided")
				}
				next.ServeHTTP(rw, r.WithContext(ctx))
				if rw.statusCode >= 400 {
					return errAborted
				}
				return nil
			})

			if err != nil && err != errAborted {
				slog.Error("tenant transaction failed", "error", err, "tenant_id", tenantIDStr)
				if rw.statusCode < 400 {
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}
		})
	}
}

// errAborted signals an intentional rollback because the handler wrote
// a 4xx/5xx response, not a real transaction failure.
var errAborted = errAbortErr{}

type errAbortErr struct{}

func (errAbortErr) Error() string { return "middleware: handler aborted transaction" }

// responseWriter wraps http.ResponseWriter to capture status codes.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
