package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WildcardCapability is the reserved capability key that matches any
// action on any resource within its holder's assignment scope. It is
// tenant-scoped by virtue of the assignment that carries it, never a
// bypass of tenant isolation.
const WildcardCapability = "*"

// Scope is the optional suffix on a capability key constraining how far
// the capability reaches.
type Scope string

const (
	ScopeNone    Scope = ""
	ScopeOwn     Scope = "own"
	ScopeSubtree Scope = "subtree"
)

var ErrCapabilityKeyRequired = errors.New("domain: capability key is required")

// Capability is a grammar-constrained permission string:
// {domain}.{resource}:{action}[:scope]. Keys are immutable once seeded
// and compared byte-exact (case-sensitive).
type Capability struct {
	Key       string
	CreatedAt time.Time
}

// NewCapability validates and constructs a Capability. The grammar
// itself is not strictly enforced beyond non-emptiness: the engine
// treats keys as opaque byte strings and only the wildcard key is
// special-cased. StripScope and ScopeOf below implement the suffix
// grammar used for capability matching.
func NewCapability(key string) (*Capability, error) {
	if key == "" {
		return nil, ErrCapabilityKeyRequired
	}
	return &Capability{Key: key, CreatedAt: time.Now().UTC()}, nil
}

// StripScope returns the capability key with any ":own" or ":subtree"
// suffix removed.
func StripScope(capKey string) string {
	if capKey == WildcardCapability {
		return capKey
	}
	if base, ok := strings.CutSuffix(capKey, ":"+string(ScopeOwn)); ok {
		return base
	}
	if base, ok := strings.CutSuffix(capKey, ":"+string(ScopeSubtree)); ok {
		return base
	}
	return capKey
}

// ScopeOf extracts the scope suffix of a capability key, or ScopeNone if
// absent.
func ScopeOf(capKey string) Scope {
	if strings.HasSuffix(capKey, ":"+string(ScopeOwn)) {
		return ScopeOwn
	}
	if strings.HasSuffix(capKey, ":"+string(ScopeSubtree)) {
		return ScopeSubtree
	}
	return ScopeNone
}

// IsReadLike classifies a capability as read/analyze-like. The engine
// consults visibility grants only for read-shaped capabilities, never
// for writes.
func IsReadLike(capKey string) bool {
	base := StripScope(capKey)
	parts := strings.SplitN(base, ":", 2)
	if len(parts) != 2 {
		return false
	}
	action := parts[1]
	return action == "view" || action == "read" || action == "list" || action == "analyze"
}

// Role groups a set of capabilities under a tenant-unique label.
type Role struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Label     string
	CreatedAt time.Time
}

var ErrRoleLabelRequired = errors.New("domain: role label is required")

func NewRole(id, tenantID uuid.UUID, label string) (*Role, error) {
	if label == "" {
		return nil, ErrRoleLabelRequired
	}
	return &Role{ID: id, TenantID: tenantID, Label: label, CreatedAt: time.Now().UTC()}, nil
}

// RoleCapability attaches a Capability to a Role. The pair is the
// primary key; attachment is a simple insert/delete.
type RoleCapability struct {
	RoleID        uuid.UUID
	CapabilityKey string
}
