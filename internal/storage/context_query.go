package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/authz"
)

// ContextStore adapts Queries to authz.ContextLoader and
// authz.AncestorChecker, the two read seams the engine needs.
type ContextStore struct {
	Q *Queries
}

var (
	_ authz.ContextLoader   = (*ContextStore)(nil)
	_ authz.AncestorChecker = (*ContextStore)(nil)
	_ authz.TenantLookup    = (*Queries)(nil)
)

// IsAncestor delegates straight to the closure-table lookup.
func (c *ContextStore) IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error) {
	return c.Q.IsAncestor(ctx, ancestorID, descendantID)
}

// LoadAuthContext assembles the full AuthContext for a user: every
// assignment (active or not, the engine filters by time), each
// flattened with its role's capabilities and its org node's label,
// plus every visibility grant. This is one logical read; callers
// needing a single transaction should invoke it from inside
// WithTenantScope.
func (c *ContextStore) LoadAuthContext(ctx context.Context, tenantID, userID uuid.UUID) (*authz.AuthContext, error) {
	user, err := c.Q.GetUserByID(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	rawAssignments, err := c.Q.AssignmentsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	assignments := make([]authz.ContextAssignment, 0, len(rawAssignments))
	for _, a := range rawAssignments {
		caps, err := c.Q.RoleCapabilities(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		role, err := c.Q.GetRole(ctx, tenantID, a.RoleID)
		if err != nil {
			return nil, err
		}
		node, err := c.Q.GetOrgNode(ctx, tenantID, a.OrgNodeID)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, authz.ContextAssignment{
			AssignmentID: a.ID,
			OrgNodeID:    a.OrgNodeID,
			OrgNodeLabel: node.Label,
			RoleID:       a.RoleID,
			RoleLabel:    role.Label,
			Capabilities: caps,
			StartUTC:     a.StartUTC,
			EndUTC:       a.EndUTC,
		})
	}

	rawGrants, err := c.Q.VisibilityGrantsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	grants := make([]authz.ContextVisibilityGrant, 0, len(rawGrants))
	for _, g := range rawGrants {
		grants = append(grants, authz.ContextVisibilityGrant{
			GrantID:     g.ID,
			OrgNodeID:   g.OrgNodeID,
			AccessScope: g.AccessScope,
			StartUTC:    g.StartUTC,
			EndUTC:      g.EndUTC,
		})
	}

	return &authz.AuthContext{
		UserID:           user.ID,
		TenantID:         user.TenantID,
		Email:            user.Email,
		DisplayLabel:     user.DisplayLabel,
		Assignments:      assignments,
		VisibilityGrants: grants,
	}, nil
}
