// Package invite implements tenant onboarding via invitation tokens:
// create an invitation for a predetermined org node and role, then
// accept it atomically into a new user plus their first assignment.
package invite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/notify"
	"github.com/veltrix/authzcore/internal/storage"
)

var (
	ErrInvitationNotFound = errors.New("invite: invitation not found")
	ErrInvitationExpired  = errors.New("invite: invitation expired")
	ErrInvitationConsumed = errors.New("invite: invitation already accepted")
)

// Store is the slice of the persistence adapter the invitation flow
// consumes. *storage.Queries satisfies it; tests substitute an
// in-memory fake.
type Store interface {
	CreateInvitation(ctx context.Context, inv *domain.Invitation) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id uuid.UUID, acceptedUTC time.Time) error
	CreateAssignment(ctx context.Context, a *domain.OrgAssignment) error
}

var _ Store = (*storage.Queries)(nil)

// Manager issues and accepts invitations. It composes credential.Manager
// for the identity/session side of acceptance rather than duplicating
// password hashing and token issuance.
type Manager struct {
	Queries    Store
	Credential *credential.Manager
	Notify     notify.Sink
	Audit      audit.Sink
	Clock      func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

// Create issues a new invitation for email, scoped to targetOrgNode
// and targetRole, and dispatches it through Notify. The raw token is
// returned exactly once; only its hash is persisted.
func (m *Manager) Create(ctx context.Context, tenantID, inviterID, targetOrgNode, targetRole uuid.UUID, email string) (string, error) {
	raw, err := credential.GenerateSecureToken(16)
	if err != nil {
		return "", err
	}

	inv := &domain.Invitation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Email:         email,
		InviterID:     inviterID,
		TargetRoleID:  targetRole,
		TargetOrgNode: targetOrgNode,
		TokenHash:     credential.HashToken(raw),
		ExpiryUTC:     m.now().Add(domain.DefaultInvitationTTL),
	}
	if err := m.Queries.CreateInvitation(ctx, inv); err != nil {
		return "", err
	}

	if err := m.Notify.SendInvitation(ctx, email, raw); err != nil {
		return "", fmt.Errorf("invite: dispatch invitation: %w", err)
	}

	m.Audit.Log(ctx, domain.ActionInvitationCreate, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: inviterID, Valid: true},
		EntityKind: "invitation",
		EntityID:   inv.ID,
	})

	return raw, nil
}

// Accept validates the invitation, registers a new user with the
// given password, grants the invitation's target assignment, and marks
// the invitation consumed. Acceptance is not idempotent: a second
// attempt against the same token fails with ErrInvitationConsumed.
func (m *Manager) Accept(ctx context.Context, token, password, displayLabel string, ip net.IP, userAgent string) (*domain.User, *credential.TokenPair, error) {
	hash := credential.HashToken(token)
	inv, err := m.Queries.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvitationNotFound
		}
		return nil, nil, err
	}

	now := m.now()
	if inv.IsConsumed() {
		return nil, nil, ErrInvitationConsumed
	}
	if inv.IsExpired(now) {
		return nil, nil, ErrInvitationExpired
	}

	user, pair, err := m.Credential.Register(ctx, inv.TenantID, inv.Email, password, displayLabel, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	assignment := domain.NewOrgAssignment(uuid.New(), inv.TenantID, user.ID, inv.TargetOrgNode, inv.TargetRoleID)
	if err := m.Queries.CreateAssignment(ctx, assignment); err != nil {
		return nil, nil, fmt.Errorf("invite: grant assignment: %w", err)
	}

	if err := m.Queries.MarkInvitationAccepted(ctx, inv.ID, now); err != nil {
		return nil, nil, fmt.Errorf("invite: mark accepted: %w", err)
	}

	m.Audit.Log(ctx, domain.ActionInvitationAccept, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: inv.TenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: user.ID, Valid: true},
		EntityKind: "invitation",
		EntityID:   inv.ID,
	})

	return user, pair, nil
}
