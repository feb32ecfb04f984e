package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/domain"
)

func TestStripScopeAndScopeOf(t *testing.T) {
	tests := []struct {
		key   string
		base  string
		scope domain.Scope
	}{
		{"crm.visit:view", "crm.visit:view", domain.ScopeNone},
		{"crm.visit:view:subtree", "crm.visit:view", domain.ScopeSubtree},
		{"crm.visit:edit:own", "crm.visit:edit", domain.ScopeOwn},
		{"*", "*", domain.ScopeNone},
		{"billing.invoice:approve", "billing.invoice:approve", domain.ScopeNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.base, domain.StripScope(tt.key), tt.key)
		assert.Equal(t, tt.scope, domain.ScopeOf(tt.key), tt.key)
	}
}

func TestIsReadLike(t *testing.T) {
	assert.True(t, domain.IsReadLike("crm.visit:view:subtree"))
	assert.True(t, domain.IsReadLike("crm.visit:read"))
	assert.True(t, domain.IsReadLike("crm.visit:list"))
	assert.True(t, domain.IsReadLike("report.sales:analyze"))
	assert.False(t, domain.IsReadLike("crm.visit:edit:own"))
	assert.False(t, domain.IsReadLike("crm.visit:delete"))
	assert.False(t, domain.IsReadLike("*"))
}

func TestAccessScopeSatisfies(t *testing.T) {
	assert.True(t, domain.AccessRead.Satisfies(domain.AccessRead))
	assert.True(t, domain.AccessAnalyze.Satisfies(domain.AccessAnalyze))
	// analyze ⊇ read, never the reverse.
	assert.True(t, domain.AccessAnalyze.Satisfies(domain.AccessRead))
	assert.False(t, domain.AccessRead.Satisfies(domain.AccessAnalyze))
}

func TestAssignmentActivityBoundaries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := domain.OrgAssignment{
		ID:       uuid.New(),
		StartUTC: now,
	}

	// start_utc == now is active (inclusive).
	assert.True(t, a.IsActiveAt(now))
	assert.False(t, a.IsActiveAt(now.Add(-time.Nanosecond)))

	// end_utc == now is no longer active (exclusive).
	end := now.Add(time.Hour)
	a.EndUTC = &end
	assert.True(t, a.IsActiveAt(end.Add(-time.Nanosecond)))
	assert.False(t, a.IsActiveAt(end))
}

func TestAssignmentTerminateIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := domain.NewOrgAssignment(uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New())

	first := now.Add(time.Hour)
	a.Terminate(first)
	require.NotNil(t, a.EndUTC)
	assert.Equal(t, first, *a.EndUTC)

	// A second termination is a no-op.
	a.Terminate(now.Add(2 * time.Hour))
	assert.Equal(t, first, *a.EndUTC)
}

func TestValidateEnd(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	later := start.Add(time.Minute)
	assert.NoError(t, domain.ValidateEnd(start, &later))
	assert.NoError(t, domain.ValidateEnd(start, nil))

	assert.ErrorIs(t, domain.ValidateEnd(start, &start), domain.ErrAssignmentEndBeforeStart)
	earlier := start.Add(-time.Minute)
	assert.ErrorIs(t, domain.ValidateEnd(start, &earlier), domain.ErrAssignmentEndBeforeStart)
}

func TestNewUserRequiresContact(t *testing.T) {
	_, err := domain.NewUser(uuid.New(), uuid.New(), "", "", "Ada")
	assert.ErrorIs(t, err, domain.ErrUserContactRequired)

	u, err := domain.NewUser(uuid.New(), uuid.New(), "", "+31612345678", "Ada")
	require.NoError(t, err)
	assert.True(t, u.IsActive())
}

func TestNewCapabilityRejectsEmpty(t *testing.T) {
	_, err := domain.NewCapability("")
	assert.ErrorIs(t, err, domain.ErrCapabilityKeyRequired)
}
