// Package authz implements the authorization engine: the evaluate and
// get_context operations that every capability check in the system
// funnels through. It depends only on internal/domain and the storage
// query layer it is handed at construction, and never talks HTTP.
package authz

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/domain"
)

// Closed reason_key vocabulary. The HTTP boundary and the audit
// emitter both key off these literal strings.
const (
	ReasonCapabilityMatch      = "capability_match"
	ReasonCapabilityOwn        = "capability+own"
	ReasonCapabilitySubtree    = "capability+subtree"
	ReasonWildcard             = "wildcard"
	ReasonVisibilityGrant      = "visibility_grant"
	ReasonNoActiveAssignment   = "no_active_assignment"
	ReasonNoMatchingCapability = "no_matching_capability"
	ReasonOutOfScope           = "out_of_scope"
	ReasonTenantSuspended      = "tenant_suspended"
	ReasonPrincipalNotService  = "principal_not_service"
)

// Subject identifies the authenticated principal an evaluation is
// performed on behalf of.
type Subject struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// Resource carries the attributes an evaluation checks scope against.
type Resource struct {
	OwnerUserID uuid.NullUUID
	OrgNodeID   uuid.NullUUID
	Attrs       map[string]any
}

// Decision is the tagged result of Evaluate.
type Decision struct {
	Allow               bool
	ReasonKey           string
	MatchedAssignmentID uuid.NullUUID
	MatchedOrgNodeID    uuid.NullUUID
}

func deny(reason string) Decision { return Decision{Allow: false, ReasonKey: reason} }

// TenantLookup and ContextLoader are the minimal persistence seams the
// engine needs; internal/storage implements both against Postgres, and
// a cache decorator (internal/cache) can wrap ContextStore.
type TenantLookup interface {
	GetTenantByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
}

// AuthContext is the materialized view of everything a user can act
// as. It is what GetContext returns and what Evaluate's inner loop
// walks.
type AuthContext struct {
	UserID           uuid.UUID
	TenantID         uuid.UUID
	Email            string
	DisplayLabel     string
	Assignments      []ContextAssignment
	VisibilityGrants []ContextVisibilityGrant
}

// ContextAssignment is one active-or-historical assignment, flattened
// with its role's capability set and the org node's label for display.
type ContextAssignment struct {
	AssignmentID uuid.UUID
	OrgNodeID    uuid.UUID
	OrgNodeLabel string
	RoleID       uuid.UUID
	RoleLabel    string
	Capabilities []string
	StartUTC     time.Time
	EndUTC       *time.Time
}

func (a ContextAssignment) isActiveAt(t time.Time) bool {
	if t.Before(a.StartUTC) {
		return false
	}
	if a.EndUTC == nil {
		return true
	}
	return t.Before(*a.EndUTC)
}

// ContextVisibilityGrant mirrors domain.VisibilityGrant, flattened for
// the engine's scope checks and the wire contract.
type ContextVisibilityGrant struct {
	GrantID     uuid.UUID
	OrgNodeID   uuid.UUID
	AccessScope domain.AccessScope
	StartUTC    time.Time
	EndUTC      *time.Time
}

func (g ContextVisibilityGrant) isActiveAt(t time.Time) bool {
	if t.Before(g.StartUTC) {
		return false
	}
	if g.EndUTC == nil {
		return true
	}
	return t.Before(*g.EndUTC)
}

// ActiveAssignments returns the assignments in force at t, in the
// engine's deterministic evaluation order.
func (c *AuthContext) ActiveAssignments(t time.Time) []ContextAssignment {
	return activeAssignments(c.Assignments, t)
}

// ActiveVisibilityGrants returns the grants in force at t.
func (c *AuthContext) ActiveVisibilityGrants(t time.Time) []ContextVisibilityGrant {
	return activeVisibilityGrants(c.VisibilityGrants, t)
}

// ContextLoader resolves the full AuthContext for a user. The default
// implementation reads Postgres directly; internal/cache wraps it with
// a Redis-backed short-TTL cache.
type ContextLoader interface {
	LoadAuthContext(ctx context.Context, tenantID, userID uuid.UUID) (*AuthContext, error)
}

// AncestorChecker answers the closure-table ancestor query the subtree
// scope check needs. Implemented directly against org_node_paths.
type AncestorChecker interface {
	IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error)
}

// Engine evaluates capability checks against a tenant's org hierarchy,
// role assignments, and visibility grants.
type Engine struct {
	Tenants   TenantLookup
	Contexts  ContextLoader
	Ancestors AncestorChecker
	Clock     func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

// GetContext returns the full AuthContext for a user, used both by
// BFF priming and internally by Evaluate.
func (e *Engine) GetContext(ctx context.Context, subject Subject) (*AuthContext, error) {
	return e.Contexts.LoadAuthContext(ctx, subject.TenantID, subject.UserID)
}

// Evaluate walks the caller's active assignments in deterministic
// order against a fixed database snapshot and wall clock: wildcard or
// exact capability match first, then the scope check, then the
// visibility-grant fallback for read-like capabilities.
func (e *Engine) Evaluate(ctx context.Context, subject Subject, capKey string, resource Resource) (Decision, error) {
	tenant, err := e.Tenants.GetTenantByID(ctx, subject.TenantID)
	if err != nil {
		return Decision{}, err
	}
	if !tenant.IsActive() {
		return deny(ReasonTenantSuspended), nil
	}

	authCtx, err := e.Contexts.LoadAuthContext(ctx, subject.TenantID, subject.UserID)
	if err != nil {
		return Decision{}, err
	}

	now := e.now()
	active := activeAssignments(authCtx.Assignments, now)
	if len(active) == 0 {
		return e.fallbackToVisibility(ctx, authCtx, capKey, resource, now, false, false)
	}

	scope := domain.ScopeOf(capKey)

	sawCapabilityMatch := false
	for _, a := range active {
		satisfied, viaWildcard := assignmentSatisfies(a, capKey)
		if !satisfied {
			continue
		}
		sawCapabilityMatch = true

		ok, err := e.scopeCheck(ctx, subject, a, scope, resource)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			continue
		}

		reason := ReasonCapabilityMatch
		switch {
		case viaWildcard:
			reason = ReasonWildcard
		case scope == domain.ScopeOwn:
			reason = ReasonCapabilityOwn
		case scope == domain.ScopeSubtree:
			reason = ReasonCapabilitySubtree
		}
		return Decision{
			Allow:               true,
			ReasonKey:           reason,
			MatchedAssignmentID: uuid.NullUUID{UUID: a.AssignmentID, Valid: true},
			MatchedOrgNodeID:    uuid.NullUUID{UUID: a.OrgNodeID, Valid: true},
		}, nil
	}

	return e.fallbackToVisibility(ctx, authCtx, capKey, resource, now, sawCapabilityMatch, true)
}

// fallbackToVisibility handles the case where no assignment granted
// the capability: a read/analyze-like capability may still be satisfied
// by a visibility grant covering an ancestor of the resource.
func (e *Engine) fallbackToVisibility(ctx context.Context, authCtx *AuthContext, capKey string, resource Resource, now time.Time, sawCapabilityMatch, hadActiveAssignment bool) (Decision, error) {
	grants := activeVisibilityGrants(authCtx.VisibilityGrants, now)

	if !domain.IsReadLike(capKey) || !resource.OrgNodeID.Valid {
		return e.terminalDenial(sawCapabilityMatch, hadActiveAssignment, len(grants) > 0), nil
	}

	required := requiredAccessScope(capKey)

	for _, g := range grants {
		if !g.AccessScope.Satisfies(required) {
			continue
		}
		isAncestor, err := e.Ancestors.IsAncestor(ctx, g.OrgNodeID, resource.OrgNodeID.UUID)
		if err != nil {
			return Decision{}, err
		}
		if isAncestor {
			return Decision{
				Allow:            true,
				ReasonKey:        ReasonVisibilityGrant,
				MatchedOrgNodeID: uuid.NullUUID{UUID: g.OrgNodeID, Valid: true},
			}, nil
		}
	}

	return e.terminalDenial(sawCapabilityMatch, hadActiveAssignment, len(grants) > 0), nil
}

// terminalDenial picks the deny reason. no_active_assignment is
// reserved for a principal holding nothing at all; a principal with
// grants or assignments that simply cannot satisfy the capability gets
// no_matching_capability, and a capability match that failed every
// resource check gets out_of_scope.
func (e *Engine) terminalDenial(sawCapabilityMatch, hadActiveAssignment, hadActiveGrant bool) Decision {
	switch {
	case sawCapabilityMatch:
		return deny(ReasonOutOfScope)
	case !hadActiveAssignment && !hadActiveGrant:
		return deny(ReasonNoActiveAssignment)
	default:
		return deny(ReasonNoMatchingCapability)
	}
}

// scopeCheck validates the resource against the capability's scope
// suffix.
func (e *Engine) scopeCheck(ctx context.Context, subject Subject, a ContextAssignment, scope domain.Scope, resource Resource) (bool, error) {
	switch scope {
	case domain.ScopeOwn:
		return resource.OwnerUserID.Valid && resource.OwnerUserID.UUID == subject.UserID, nil
	case domain.ScopeSubtree:
		if !resource.OrgNodeID.Valid {
			return false, nil
		}
		return e.Ancestors.IsAncestor(ctx, a.OrgNodeID, resource.OrgNodeID.UUID)
	default:
		return true, nil
	}
}

func activeAssignments(all []ContextAssignment, now time.Time) []ContextAssignment {
	out := make([]ContextAssignment, 0, len(all))
	for _, a := range all {
		if a.isActiveAt(now) {
			out = append(out, a)
		}
	}
	// Deterministic order: start_utc asc, then assignment_id asc.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].StartUTC.Before(out[j].StartUTC)
		}
		return out[i].AssignmentID.String() < out[j].AssignmentID.String()
	})
	return out
}

func activeVisibilityGrants(all []ContextVisibilityGrant, now time.Time) []ContextVisibilityGrant {
	out := make([]ContextVisibilityGrant, 0, len(all))
	for _, g := range all {
		if g.isActiveAt(now) {
			out = append(out, g)
		}
	}
	return out
}

// requiredAccessScope maps a capability's action to the visibility
// access scope it needs: an "analyze" action requires at least
// analyze-level visibility, every other read-like action needs only
// read. Analyze covers read, never the reverse.
func requiredAccessScope(capKey string) domain.AccessScope {
	base := domain.StripScope(capKey)
	if idx := len(base) - len(":analyze"); idx >= 0 && base[idx:] == ":analyze" {
		return domain.AccessAnalyze
	}
	return domain.AccessRead
}

// assignmentSatisfies reports whether the assignment's role grants the
// capability: wildcard short-circuits everything, otherwise the key
// must appear byte-exact in the role's capability set.
func assignmentSatisfies(a ContextAssignment, capKey string) (satisfied, viaWildcard bool) {
	for _, c := range a.Capabilities {
		if c == domain.WildcardCapability {
			return true, true
		}
	}
	for _, c := range a.Capabilities {
		if c == capKey {
			return true, false
		}
	}
	return false, false
}
