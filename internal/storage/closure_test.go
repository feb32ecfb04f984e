package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/storage"
)

// setupQueries connects to TEST_DATABASE_URL (schema already migrated),
// skipping when none is configured.
func setupQueries(t *testing.T) *storage.Queries {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database-backed test")
	}
	pool, err := storage.NewPostgres(url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return storage.New(pool)
}

func seedTenant(t *testing.T, q *storage.Queries) uuid.UUID {
	t.Helper()
	tenant, err := domain.NewTenant(uuid.New(), "closure-"+uuid.NewString()[:8], "Closure Test")
	require.NoError(t, err)
	require.NoError(t, q.CreateTenant(context.Background(), tenant))
	return tenant.ID
}

func addNode(t *testing.T, q *storage.Queries, tenantID uuid.UUID, label string, parent uuid.NullUUID) uuid.UUID {
	t.Helper()
	node, err := domain.NewOrgNode(uuid.New(), tenantID, "unit", label, parent)
	require.NoError(t, err)
	require.NoError(t, q.CreateOrgNode(context.Background(), node))
	return node.ID
}

func TestClosureTable_InsertMaintainsTransitiveReflexiveClosure(t *testing.T) {
	q := setupQueries(t)
	ctx := context.Background()
	tenantID := seedTenant(t, q)

	// root → n1 → n2, plus a sibling of n1.
	root := addNode(t, q, tenantID, "root", uuid.NullUUID{})
	n1 := addNode(t, q, tenantID, "n1", uuid.NullUUID{UUID: root, Valid: true})
	n2 := addNode(t, q, tenantID, "n2", uuid.NullUUID{UUID: n1, Valid: true})
	sib := addNode(t, q, tenantID, "sibling", uuid.NullUUID{UUID: root, Valid: true})

	// Reflexive self-entries.
	for _, id := range []uuid.UUID{root, n1, n2, sib} {
		ok, err := q.IsAncestor(ctx, id, id)
		require.NoError(t, err)
		assert.True(t, ok, "closure must be reflexive")
	}

	// Transitive chain.
	for _, pair := range [][2]uuid.UUID{{root, n1}, {root, n2}, {n1, n2}, {root, sib}} {
		ok, err := q.IsAncestor(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Nothing upward or across.
	for _, pair := range [][2]uuid.UUID{{n1, root}, {n2, n1}, {sib, n1}, {n1, sib}} {
		ok, err := q.IsAncestor(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// Descendants of root: itself plus all three children, depth-ordered.
	descendants, err := q.Descendants(ctx, root)
	require.NoError(t, err)
	assert.Len(t, descendants, 4)
	assert.Equal(t, root, descendants[0].DescendantID)
	assert.Equal(t, 0, descendants[0].Depth)

	// Ancestors of n2: itself, n1, root; the deepest chain is depth 2.
	ancestors, err := q.Ancestors(ctx, n2)
	require.NoError(t, err)
	require.Len(t, ancestors, 3)
	assert.Equal(t, n2, ancestors[0].AncestorID)
	assert.Equal(t, root, ancestors[2].AncestorID)
	assert.Equal(t, 2, ancestors[2].Depth)
}

func TestClosureTable_DeactivatedNodeStaysResolvable(t *testing.T) {
	q := setupQueries(t)
	ctx := context.Background()
	tenantID := seedTenant(t, q)

	root := addNode(t, q, tenantID, "root", uuid.NullUUID{})
	child := addNode(t, q, tenantID, "child", uuid.NullUUID{UUID: root, Valid: true})

	require.NoError(t, q.SetOrgNodeActive(ctx, tenantID, child, false))

	// Closure rows are retained so historical assignments resolve.
	ok, err := q.IsAncestor(ctx, root, child)
	require.NoError(t, err)
	assert.True(t, ok)

	node, err := q.GetOrgNode(ctx, tenantID, child)
	require.NoError(t, err)
	assert.False(t, node.Active)
}
