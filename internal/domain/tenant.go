// Package domain holds the entities and invariants of the authorization
// core: tenants, users, the org hierarchy, capabilities, roles,
// assignments and visibility grants. It is storage- and transport-agnostic.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TenantState models the lifecycle of a Tenant.
type TenantState string

const (
	TenantActive    TenantState = "active"
	TenantSuspended TenantState = "suspended"
)

// Tenant is the top-level isolation boundary. Every other entity except
// Capability is scoped to exactly one tenant.
type Tenant struct {
	ID        uuid.UUID
	Slug      string
	Label     string
	State     TenantState
	CreatedAt time.Time
}

var (
	ErrTenantSlugRequired  = errors.New("domain: tenant slug is required")
	ErrTenantLabelRequired = errors.New("domain: tenant label is required")
)

// NewTenant validates and constructs a Tenant. Slug is immutable once
// created.
func NewTenant(id uuid.UUID, slug, label string) (*Tenant, error) {
	if slug == "" {
		return nil, ErrTenantSlugRequired
	}
	if label == "" {
		return nil, ErrTenantLabelRequired
	}
	return &Tenant{
		ID:        id,
		Slug:      slug,
		Label:     label,
		State:     TenantActive,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IsActive reports whether authorization evaluations may proceed for
// this tenant's members.
func (t *Tenant) IsActive() bool {
	return t.State == TenantActive
}
