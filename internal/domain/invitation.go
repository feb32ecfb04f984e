package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invitation onboards a new user into a tenant at a predetermined org
// node and role. TokenHash is the SHA-256 of a random 128-bit token.
type Invitation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Email         string
	Phone         string
	InviterID     uuid.UUID
	TargetRoleID  uuid.UUID
	TargetOrgNode uuid.UUID
	TokenHash     string
	ExpiryUTC     time.Time
	AcceptedUTC   *time.Time
}

// IsExpired reports whether the invitation can no longer be accepted.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiryUTC)
}

// IsConsumed reports whether the invitation has already been accepted.
func (i *Invitation) IsConsumed() bool {
	return i.AcceptedUTC != nil
}

// DefaultInvitationTTL is the default expiry window for invitations.
const DefaultInvitationTTL = 7 * 24 * time.Hour
