package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAssignmentEndBeforeStart = errors.New("domain: assignment end_utc must be after start_utc")
	ErrAssignmentCrossTenant    = errors.New("domain: assignment references a foreign key outside its tenant")
)

// OrgAssignment is a time-bounded attachment of a user to (org node,
// role). Assignments model history: they are immutable once created,
// never deleted, and terminated only by setting EndUTC.
type OrgAssignment struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	OrgNodeID uuid.UUID
	RoleID    uuid.UUID
	StartUTC  time.Time
	EndUTC    *time.Time // nil = open-ended
}

// NewOrgAssignment constructs an open-ended OrgAssignment starting now.
// It performs no validation; ValidateEnd checks an explicit end time.
func NewOrgAssignment(id, tenantID, userID, orgNodeID, roleID uuid.UUID) *OrgAssignment {
	return &OrgAssignment{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		OrgNodeID: orgNodeID,
		RoleID:    roleID,
		StartUTC:  time.Now().UTC(),
	}
}

// IsActiveAt reports whether the assignment is in force at instant t:
// start_utc <= t (inclusive) and (end_utc is nil or t < end_utc)
// (exclusive).
func (a *OrgAssignment) IsActiveAt(t time.Time) bool {
	if t.Before(a.StartUTC) {
		return false
	}
	if a.EndUTC == nil {
		return true
	}
	return t.Before(*a.EndUTC)
}

// Terminate sets EndUTC to now, if not already set. Ending an
// already-ended assignment is a no-op.
func (a *OrgAssignment) Terminate(now time.Time) {
	if a.EndUTC != nil {
		return
	}
	a.EndUTC = &now
}

// ValidateEnd checks the end_utc > start_utc invariant for an explicit
// end time, used by the assignment-creation handler before an
// assignment with a caller-supplied end_utc is stored.
func ValidateEnd(start time.Time, end *time.Time) error {
	if end != nil && !end.After(start) {
		return ErrAssignmentEndBeforeStart
	}
	return nil
}

// AccessScope enumerates the read-oriented scopes a VisibilityGrant can
// carry. AccessAnalyze is treated as a superset of AccessRead for allow
// checks. Neither scope ever confers write.
type AccessScope string

const (
	AccessRead    AccessScope = "read"
	AccessAnalyze AccessScope = "analyze"
)

// Satisfies reports whether this grant's scope covers the required
// scope: analyze ⊇ read.
func (a AccessScope) Satisfies(required AccessScope) bool {
	if a == required {
		return true
	}
	return a == AccessAnalyze && required == AccessRead
}

// VisibilityGrant is a read-oriented cross-subtree permission; it never
// confers write capabilities.
type VisibilityGrant struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	UserID      uuid.UUID
	OrgNodeID   uuid.UUID
	AccessScope AccessScope
	StartUTC    time.Time
	EndUTC      *time.Time
}

// NewVisibilityGrant constructs a grant starting now.
func NewVisibilityGrant(id, tenantID, userID, orgNodeID uuid.UUID, scope AccessScope) *VisibilityGrant {
	return &VisibilityGrant{
		ID:          id,
		TenantID:    tenantID,
		UserID:      userID,
		OrgNodeID:   orgNodeID,
		AccessScope: scope,
		StartUTC:    time.Now().UTC(),
	}
}

// IsActiveAt mirrors OrgAssignment.IsActiveAt.
func (g *VisibilityGrant) IsActiveAt(t time.Time) bool {
	if t.Before(g.StartUTC) {
		return false
	}
	if g.EndUTC == nil {
		return true
	}
	return t.Before(*g.EndUTC)
}

// Revoke sets EndUTC to now, idempotently.
func (g *VisibilityGrant) Revoke(now time.Time) {
	if g.EndUTC != nil {
		return
	}
	g.EndUTC = &now
}
