package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/authz"
	"github.com/veltrix/authzcore/internal/domain"
)

// fakeAuthzStore backs the engine with in-memory tenants, contexts, and
// an explicit closure relation.
type fakeAuthzStore struct {
	tenants  map[uuid.UUID]*domain.Tenant
	contexts map[uuid.UUID]*authz.AuthContext
	closure  map[[2]uuid.UUID]bool
}

func (f *fakeAuthzStore) GetTenantByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeAuthzStore) LoadAuthContext(ctx context.Context, tenantID, userID uuid.UUID) (*authz.AuthContext, error) {
	if c, ok := f.contexts[userID]; ok {
		return c, nil
	}
	return &authz.AuthContext{UserID: userID, TenantID: tenantID}, nil
}

func (f *fakeAuthzStore) IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error) {
	return f.closure[[2]uuid.UUID{ancestorID, descendantID}], nil
}

// link records ancestor→descendant closure rows, including the
// reflexive self-entries.
func (f *fakeAuthzStore) link(pairs ...[2]uuid.UUID) {
	for _, p := range pairs {
		f.closure[p] = true
		f.closure[[2]uuid.UUID{p[0], p[0]}] = true
		f.closure[[2]uuid.UUID{p[1], p[1]}] = true
	}
}

var (
	tenantT = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	userU   = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	nodeR   = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func newFixture() (*fakeAuthzStore, *authz.Engine, time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeAuthzStore{
		tenants: map[uuid.UUID]*domain.Tenant{
			tenantT: {ID: tenantT, Slug: "acme", Label: "Acme", State: domain.TenantActive},
		},
		contexts: map[uuid.UUID]*authz.AuthContext{},
		closure:  map[[2]uuid.UUID]bool{},
	}
	engine := &authz.Engine{
		Tenants:   store,
		Contexts:  store,
		Ancestors: store,
		Clock:     func() time.Time { return now },
	}
	return store, engine, now
}

func assignment(orgNode uuid.UUID, start time.Time, caps ...string) authz.ContextAssignment {
	return authz.ContextAssignment{
		AssignmentID: uuid.New(),
		OrgNodeID:    orgNode,
		RoleID:       uuid.New(),
		Capabilities: caps,
		StartUTC:     start,
	}
}

func TestEvaluate_AdminWildcardAtRoot(t *testing.T) {
	store, engine, now := newFixture()
	store.link()
	store.closure[[2]uuid.UUID{nodeR, nodeR}] = true

	a := assignment(nodeR, now.Add(-time.Hour), domain.WildcardCapability)
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{a},
	}

	decision, err := engine.Evaluate(context.Background(),
		authz.Subject{UserID: userU, TenantID: tenantT},
		"invoice:approve",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: nodeR, Valid: true}})
	require.NoError(t, err)

	assert.True(t, decision.Allow)
	assert.Equal(t, authz.ReasonWildcard, decision.ReasonKey)
	assert.Equal(t, nodeR, decision.MatchedOrgNodeID.UUID)
	assert.Equal(t, a.AssignmentID, decision.MatchedAssignmentID.UUID)
}

func TestEvaluate_SubtreeScope(t *testing.T) {
	store, engine, now := newFixture()
	n1 := uuid.New()
	n2 := uuid.New()
	// R → N1 → N2
	store.link(
		[2]uuid.UUID{nodeR, n1},
		[2]uuid.UUID{nodeR, n2},
		[2]uuid.UUID{n1, n2},
	)

	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{
			assignment(n1, now.Add(-time.Hour), "crm.visit:view:subtree"),
		},
	}
	subject := authz.Subject{UserID: userU, TenantID: tenantT}

	// Descendant N2 is allowed.
	decision, err := engine.Evaluate(context.Background(), subject,
		"crm.visit:view:subtree",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: n2, Valid: true}})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, authz.ReasonCapabilitySubtree, decision.ReasonKey)

	// Self counts too (closure is reflexive).
	decision, err = engine.Evaluate(context.Background(), subject,
		"crm.visit:view:subtree",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: n1, Valid: true}})
	require.NoError(t, err)
	assert.True(t, decision.Allow)

	// The parent R is out of scope.
	decision, err = engine.Evaluate(context.Background(), subject,
		"crm.visit:view:subtree",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: nodeR, Valid: true}})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonOutOfScope, decision.ReasonKey)
}

func TestEvaluate_OwnScope(t *testing.T) {
	store, engine, now := newFixture()
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{
			assignment(nodeR, now.Add(-time.Hour), "crm.visit:edit:own"),
		},
	}
	subject := authz.Subject{UserID: userU, TenantID: tenantT}

	decision, err := engine.Evaluate(context.Background(), subject,
		"crm.visit:edit:own",
		authz.Resource{OwnerUserID: uuid.NullUUID{UUID: userU, Valid: true}})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, authz.ReasonCapabilityOwn, decision.ReasonKey)

	decision, err = engine.Evaluate(context.Background(), subject,
		"crm.visit:edit:own",
		authz.Resource{OwnerUserID: uuid.NullUUID{UUID: uuid.New(), Valid: true}})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonOutOfScope, decision.ReasonKey)
}

func TestEvaluate_VisibilityGrantReadNotWrite(t *testing.T) {
	store, engine, now := newFixture()
	n2 := uuid.New()
	store.link([2]uuid.UUID{nodeR, n2})

	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		VisibilityGrants: []authz.ContextVisibilityGrant{{
			GrantID:     uuid.New(),
			OrgNodeID:   n2,
			AccessScope: domain.AccessRead,
			StartUTC:    now.Add(-time.Hour),
		}},
	}
	subject := authz.Subject{UserID: userU, TenantID: tenantT}

	decision, err := engine.Evaluate(context.Background(), subject,
		"crm.visit:view:subtree",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: n2, Valid: true}})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, authz.ReasonVisibilityGrant, decision.ReasonKey)
	assert.Equal(t, n2, decision.MatchedOrgNodeID.UUID)

	// Write capabilities never succeed by visibility.
	decision, err = engine.Evaluate(context.Background(), subject,
		"crm.visit:edit:own",
		authz.Resource{
			OwnerUserID: uuid.NullUUID{UUID: userU, Valid: true},
			OrgNodeID:   uuid.NullUUID{UUID: n2, Valid: true},
		})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonNoMatchingCapability, decision.ReasonKey)
}

func TestEvaluate_AnalyzeGrantCoversRead(t *testing.T) {
	store, engine, now := newFixture()
	n2 := uuid.New()
	store.link([2]uuid.UUID{nodeR, n2})

	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		VisibilityGrants: []authz.ContextVisibilityGrant{{
			GrantID:     uuid.New(),
			OrgNodeID:   nodeR,
			AccessScope: domain.AccessAnalyze,
			StartUTC:    now.Add(-time.Hour),
		}},
	}

	decision, err := engine.Evaluate(context.Background(),
		authz.Subject{UserID: userU, TenantID: tenantT},
		"crm.visit:view:subtree",
		authz.Resource{OrgNodeID: uuid.NullUUID{UUID: n2, Valid: true}})
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, authz.ReasonVisibilityGrant, decision.ReasonKey)
}

func TestEvaluate_TenantSuspended(t *testing.T) {
	store, engine, now := newFixture()
	store.tenants[tenantT].State = domain.TenantSuspended
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{
			assignment(nodeR, now.Add(-time.Hour), domain.WildcardCapability),
		},
	}

	decision, err := engine.Evaluate(context.Background(),
		authz.Subject{UserID: userU, TenantID: tenantT},
		"invoice:approve", authz.Resource{})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonTenantSuspended, decision.ReasonKey)
}

func TestEvaluate_NoActiveAssignment(t *testing.T) {
	_, engine, _ := newFixture()

	decision, err := engine.Evaluate(context.Background(),
		authz.Subject{UserID: userU, TenantID: tenantT},
		"invoice:approve", authz.Resource{})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonNoActiveAssignment, decision.ReasonKey)
}

func TestEvaluate_NoMatchingCapability(t *testing.T) {
	store, engine, now := newFixture()
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{
			assignment(nodeR, now.Add(-time.Hour), "crm.visit:view"),
		},
	}

	decision, err := engine.Evaluate(context.Background(),
		authz.Subject{UserID: userU, TenantID: tenantT},
		"invoice:approve", authz.Resource{})
	require.NoError(t, err)
	assert.False(t, decision.Allow)
	assert.Equal(t, authz.ReasonNoMatchingCapability, decision.ReasonKey)
}

func TestEvaluate_AssignmentTimeBoundaries(t *testing.T) {
	store, engine, now := newFixture()
	subject := authz.Subject{UserID: userU, TenantID: tenantT}
	capKey := "crm.visit:view"

	// start_utc == now is active (inclusive).
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{assignment(nodeR, now, capKey)},
	}
	decision, err := engine.Evaluate(context.Background(), subject, capKey, authz.Resource{})
	require.NoError(t, err)
	assert.True(t, decision.Allow, "assignment starting exactly now must be active")

	// end_utc == now is no longer active (exclusive).
	ended := assignment(nodeR, now.Add(-time.Hour), capKey)
	end := now
	ended.EndUTC = &end
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{ended},
	}
	decision, err = engine.Evaluate(context.Background(), subject, capKey, authz.Resource{})
	require.NoError(t, err)
	assert.False(t, decision.Allow, "assignment ending exactly now must be inactive")
	assert.Equal(t, authz.ReasonNoActiveAssignment, decision.ReasonKey)
}

func TestEvaluate_DeterministicAcrossRepeats(t *testing.T) {
	store, engine, now := newFixture()
	early := assignment(nodeR, now.Add(-2*time.Hour), "crm.visit:view")
	late := assignment(nodeR, now.Add(-time.Hour), "crm.visit:view")
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		// Stored out of order on purpose; the engine sorts.
		Assignments: []authz.ContextAssignment{late, early},
	}
	subject := authz.Subject{UserID: userU, TenantID: tenantT}

	first, err := engine.Evaluate(context.Background(), subject, "crm.visit:view", authz.Resource{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.Evaluate(context.Background(), subject, "crm.visit:view", authz.Resource{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, early.AssignmentID, first.MatchedAssignmentID.UUID,
		"earliest start_utc must win the deterministic order")
}

func TestEvaluate_MonotonicInGrants(t *testing.T) {
	store, engine, now := newFixture()
	n2 := uuid.New()
	store.link([2]uuid.UUID{nodeR, n2})

	subject := authz.Subject{UserID: userU, TenantID: tenantT}
	capKey := "crm.visit:view:subtree"
	resource := authz.Resource{OrgNodeID: uuid.NullUUID{UUID: n2, Valid: true}}

	base := []authz.ContextAssignment{assignment(n2, now.Add(-time.Hour), capKey)}
	store.contexts[userU] = &authz.AuthContext{UserID: userU, TenantID: tenantT, Assignments: base}

	before, err := engine.Evaluate(context.Background(), subject, capKey, resource)
	require.NoError(t, err)
	require.True(t, before.Allow)

	// Adding an unrelated assignment and a grant never flips allow→deny.
	extended := append([]authz.ContextAssignment{
		assignment(nodeR, now.Add(-3*time.Hour), "billing.invoice:send"),
	}, base...)
	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: extended,
		VisibilityGrants: []authz.ContextVisibilityGrant{{
			GrantID: uuid.New(), OrgNodeID: nodeR,
			AccessScope: domain.AccessRead, StartUTC: now.Add(-time.Hour),
		}},
	}

	after, err := engine.Evaluate(context.Background(), subject, capKey, resource)
	require.NoError(t, err)
	assert.True(t, after.Allow)
}

func TestGetContext_FiltersActive(t *testing.T) {
	store, engine, now := newFixture()
	active := assignment(nodeR, now.Add(-time.Hour), "crm.visit:view")
	expired := assignment(nodeR, now.Add(-3*time.Hour), "crm.visit:view")
	end := now.Add(-2 * time.Hour)
	expired.EndUTC = &end

	store.contexts[userU] = &authz.AuthContext{
		UserID: userU, TenantID: tenantT,
		Assignments: []authz.ContextAssignment{active, expired},
	}

	authCtx, err := engine.GetContext(context.Background(), authz.Subject{UserID: userU, TenantID: tenantT})
	require.NoError(t, err)

	got := authCtx.ActiveAssignments(now)
	require.Len(t, got, 1)
	assert.Equal(t, active.AssignmentID, got[0].AssignmentID)
}
