package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// UserState models the lifecycle of a User.
type UserState string

const (
	UserActive   UserState = "active"
	UserInactive UserState = "inactive"
)

// User is a tenant-scoped principal. At least one of Email or Phone must
// be present.
type User struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Email            string // optional; unique per tenant
	Phone            string // optional E.164; unique per tenant
	DisplayLabel     string
	State            UserState
	EmailVerifiedUTC *time.Time
	PhoneVerifiedUTC *time.Time
	CreatedAt        time.Time
}

var (
	ErrUserContactRequired = errors.New("domain: user requires an email or phone")
	ErrUserTenantRequired  = errors.New("domain: user requires a tenant")
)

// NewUser validates and constructs a User.
func NewUser(id, tenantID uuid.UUID, email, phone, displayLabel string) (*User, error) {
	if tenantID == uuid.Nil {
		return nil, ErrUserTenantRequired
	}
	if email == "" && phone == "" {
		return nil, ErrUserContactRequired
	}
	return &User{
		ID:           id,
		TenantID:     tenantID,
		Email:        email,
		Phone:        phone,
		DisplayLabel: displayLabel,
		State:        UserActive,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// IsActive reports whether the user may currently authenticate.
func (u *User) IsActive() bool {
	return u.State == UserActive
}

// IdentityProvider enumerates supported credential providers for a
// UserIdentity row.
type IdentityProvider string

const (
	ProviderPassword IdentityProvider = "password"
	ProviderGoogle   IdentityProvider = "google"
	ProviderTOTP     IdentityProvider = "totp"
)

// UserIdentity links a User to exactly one row per (user, provider).
// ProviderSubject is globally unique per provider so social logins
// collapse onto existing accounts.
type UserIdentity struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Provider        IdentityProvider
	ProviderSubject string
	CredentialHash  string
	CreatedAt       time.Time
}
