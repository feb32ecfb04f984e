package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OrgNode is a position in a tenant-owned tree; the unit of assignment
// and scope. Org nodes are never deleted, only deactivated.
type OrgNode struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	TypeCode  string
	Label     string
	ParentID  uuid.NullUUID
	Active    bool
	CreatedAt time.Time
}

var (
	ErrOrgNodeLabelRequired = errors.New("domain: org node label is required")
	ErrOrgNodeCyclicParent  = errors.New("domain: org node parent would create a cycle")
	ErrOrgNodeCrossTenant   = errors.New("domain: org node parent belongs to a different tenant")
)

// NewOrgNode validates and constructs a root or child OrgNode. Only the
// label is checked. Neither this constructor nor the persistence
// adapter's CreateOrgNode checks for cycles; nodes are only inserted
// under an existing parent and no operation re-parents a node.
func NewOrgNode(id, tenantID uuid.UUID, typeCode, label string, parentID uuid.NullUUID) (*OrgNode, error) {
	if label == "" {
		return nil, ErrOrgNodeLabelRequired
	}
	return &OrgNode{
		ID:        id,
		TenantID:  tenantID,
		TypeCode:  typeCode,
		Label:     label,
		ParentID:  parentID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// OrgNodePath is a row of the closure table: the transitive-reflexive
// closure of parent edges. Depth 0 rows are the reflexive self-entries.
type OrgNodePath struct {
	AncestorID   uuid.UUID
	DescendantID uuid.UUID
	Depth        int
}
