package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customMiddleware "github.com/veltrix/authzcore/internal/api/middleware"
	"github.com/veltrix/authzcore/internal/domain"
)

// setupTestPool connects to the database named by TEST_DATABASE_URL,
// skipping the test when none is configured.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database-backed test")
	}
	ctx := context.Background()
	config, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	return pool
}

func TestTenantContext_NoHeader_PublicEndpoint(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()

	mw := customMiddleware.TenantContext(pool)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Public requests still get a queries handle, just without a
		// tenant bound to the transaction.
		q, err := customMiddleware.GetQueries(r.Context())
		assert.NoError(t, err)
		assert.NotNil(t, q)

		_, err = customMiddleware.GetTenantID(r.Context())
		assert.Error(t, err, "tenant should not be set without the header")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	mw(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTenantContext_InvalidUUID_Returns400(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()

	mw := customMiddleware.TenantContext(pool)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for an invalid tenant id")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/context", nil)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rr := httptest.NewRecorder()

	mw(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTenantContext_ValidTenant_BindsContext(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()

	tenantID := uuid.New()
	mw := customMiddleware.TenantContext(pool)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := customMiddleware.GetTenantID(r.Context())
		require.NoError(t, err)
		assert.Equal(t, tenantID, got)

		q, err := customMiddleware.GetQueries(r.Context())
		require.NoError(t, err)
		assert.NotNil(t, q)

		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/context", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rr := httptest.NewRecorder()

	mw(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTenantContext_HandlerError_RollsBack(t *testing.T) {
	pool := setupTestPool(t)
	defer pool.Close()

	tenantID := uuid.New()
	testID := uuid.New()

	pool.Exec(context.Background(), "DROP TABLE IF EXISTS test_rollback")
	pool.Exec(context.Background(), "CREATE TABLE test_rollback (id UUID PRIMARY KEY)")
	defer pool.Exec(context.Background(), "DROP TABLE test_rollback")

	mw := customMiddleware.TenantContext(pool)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Writes issued inside the request transaction must vanish when
		// the handler responds with an error status.
		q, err := customMiddleware.GetQueries(r.Context())
		require.NoError(t, err)
		tenant, err := domain.NewTenant(testID, "rollback-"+testID.String()[:8], "Rollback Test")
		require.NoError(t, err)
		require.NoError(t, q.CreateTenant(r.Context(), tenant))
		http.Error(w, "business logic error", http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orgs", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rr := httptest.NewRecorder()

	mw(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var count int
	pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM tenants WHERE id = $1", testID).Scan(&count)
	assert.Equal(t, 0, count)
}
