package storage

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veltrix/authzcore/internal/domain"
)

// ErrNotFound is returned by single-row lookups that found nothing.
// Callers at the service layer translate this into apperr.KindNotFound.
var ErrNotFound = errors.New("storage: not found")

// Queries is a hand-written query layer over a DBTX (pool or tx).
// There is no code generator in front of it: every method is one
// prepared statement shape.
type Queries struct {
	db DBTX
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- tenants ---------------------------------------------------------

func (q *Queries) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO tenants (id, slug, label, state, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Slug, t.Label, t.State, t.CreatedAt)
	return err
}

func (q *Queries) GetTenantByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var t domain.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, slug, label, state, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Slug, &t.Label, &t.State, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, slug, label, state, created_at FROM tenants WHERE slug = $1`, slug,
	).Scan(&t.ID, &t.Slug, &t.Label, &t.State, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *Queries) SetTenantState(ctx context.Context, id uuid.UUID, state domain.TenantState) error {
	_, err := q.db.Exec(ctx, `UPDATE tenants SET state = $2 WHERE id = $1`, id, state)
	return err
}

// --- users & identities ------------------------------------------------

func (q *Queries) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, phone, display_label, state, email_verified_utc, phone_verified_utc, created_at)
		 VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9)`,
		u.ID, u.TenantID, u.Email, u.Phone, u.DisplayLabel, u.State, u.EmailVerifiedUTC, u.PhoneVerifiedUTC, u.CreatedAt)
	return err
}

func (q *Queries) GetUserByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, COALESCE(email,''), COALESCE(phone,''), display_label, state, email_verified_utc, phone_verified_utc, created_at
		 FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&u.ID, &u.TenantID, &u.Email, &u.Phone, &u.DisplayLabel, &u.State, &u.EmailVerifiedUTC, &u.PhoneVerifiedUTC, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error) {
	var u domain.User
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, COALESCE(email,''), COALESCE(phone,''), display_label, state, email_verified_utc, phone_verified_utc, created_at
		 FROM users WHERE tenant_id = $1 AND email = $2`, tenantID, email,
	).Scan(&u.ID, &u.TenantID, &u.Email, &u.Phone, &u.DisplayLabel, &u.State, &u.EmailVerifiedUTC, &u.PhoneVerifiedUTC, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// MarkUserEmailVerified stamps the email-verified flag, idempotently.
func (q *Queries) MarkUserEmailVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE users SET email_verified_utc = $3 WHERE tenant_id = $1 AND id = $2 AND email_verified_utc IS NULL`,
		tenantID, id, at)
	return err
}

// MarkUserPhoneVerified stamps the phone-verified flag, idempotently.
func (q *Queries) MarkUserPhoneVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE users SET phone_verified_utc = $3 WHERE tenant_id = $1 AND id = $2 AND phone_verified_utc IS NULL`,
		tenantID, id, at)
	return err
}

func (q *Queries) SetUserState(ctx context.Context, tenantID, id uuid.UUID, state domain.UserState) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET state = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, state)
	return err
}

func (q *Queries) CreateUserIdentity(ctx context.Context, ui *domain.UserIdentity) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO user_identities (id, user_id, provider, provider_subject, credential_hash, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		ui.ID, ui.UserID, ui.Provider, ui.ProviderSubject, ui.CredentialHash, ui.CreatedAt)
	return err
}

func (q *Queries) GetUserIdentity(ctx context.Context, userID uuid.UUID, provider domain.IdentityProvider) (*domain.UserIdentity, error) {
	var ui domain.UserIdentity
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_subject, credential_hash, created_at
		 FROM user_identities WHERE user_id = $1 AND provider = $2`, userID, provider,
	).Scan(&ui.ID, &ui.UserID, &ui.Provider, &ui.ProviderSubject, &ui.CredentialHash, &ui.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &ui, nil
}

func (q *Queries) GetIdentityByProviderSubject(ctx context.Context, provider domain.IdentityProvider, subject string) (*domain.UserIdentity, error) {
	var ui domain.UserIdentity
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_subject, credential_hash, created_at
		 FROM user_identities WHERE provider = $1 AND provider_subject = $2`, provider, subject,
	).Scan(&ui.ID, &ui.UserID, &ui.Provider, &ui.ProviderSubject, &ui.CredentialHash, &ui.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &ui, nil
}

func (q *Queries) UpdateUserIdentityCredential(ctx context.Context, id uuid.UUID, credentialHash string) error {
	_, err := q.db.Exec(ctx, `UPDATE user_identities SET credential_hash = $2 WHERE id = $1`, id, credentialHash)
	return err
}

// --- org nodes & closure table ------------------------------------------

func (q *Queries) CreateOrgNode(ctx context.Context, n *domain.OrgNode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO org_nodes (id, tenant_id, type_code, label, parent_id, active, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.TenantID, n.TypeCode, n.Label, n.ParentID, n.Active, n.CreatedAt)
	if err != nil {
		return err
	}
	// Reflexive self-entry.
	if _, err := q.db.Exec(ctx,
		`INSERT INTO org_node_paths (ancestor_id, descendant_id, depth) VALUES ($1,$1,0)`, n.ID); err != nil {
		return err
	}
	if !n.ParentID.Valid {
		return nil
	}
	// Union: every ancestor of the parent becomes an ancestor of the
	// new node at depth+1.
	_, err = q.db.Exec(ctx,
		`INSERT INTO org_node_paths (ancestor_id, descendant_id, depth)
		 SELECT ancestor_id, $1, depth + 1 FROM org_node_paths WHERE descendant_id = $2`,
		n.ID, n.ParentID.UUID)
	return err
}

func (q *Queries) GetOrgNode(ctx context.Context, tenantID, id uuid.UUID) (*domain.OrgNode, error) {
	var n domain.OrgNode
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, type_code, label, parent_id, active, created_at
		 FROM org_nodes WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&n.ID, &n.TenantID, &n.TypeCode, &n.Label, &n.ParentID, &n.Active, &n.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (q *Queries) SetOrgNodeActive(ctx context.Context, tenantID, id uuid.UUID, active bool) error {
	_, err := q.db.Exec(ctx, `UPDATE org_nodes SET active = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, active)
	return err
}

// IsAncestor reports whether ancestorID is an ancestor of (or equal
// to) descendantID, a single indexed closure-table lookup.
func (q *Queries) IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM org_node_paths WHERE ancestor_id = $1 AND descendant_id = $2)`,
		ancestorID, descendantID,
	).Scan(&exists)
	return exists, err
}

// Descendants returns every node in the subtree rooted at nodeID,
// including nodeID itself (depth 0).
func (q *Queries) Descendants(ctx context.Context, nodeID uuid.UUID) ([]domain.OrgNodePath, error) {
	rows, err := q.db.Query(ctx,
		`SELECT ancestor_id, descendant_id, depth FROM org_node_paths WHERE ancestor_id = $1 ORDER BY depth`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgNodePath
	for rows.Next() {
		var p domain.OrgNodePath
		if err := rows.Scan(&p.AncestorID, &p.DescendantID, &p.Depth); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ancestors returns the chain from nodeID up to its tenant root,
// including nodeID itself.
func (q *Queries) Ancestors(ctx context.Context, nodeID uuid.UUID) ([]domain.OrgNodePath, error) {
	rows, err := q.db.Query(ctx,
		`SELECT ancestor_id, descendant_id, depth FROM org_node_paths WHERE descendant_id = $1 ORDER BY depth`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgNodePath
	for rows.Next() {
		var p domain.OrgNodePath
		if err := rows.Scan(&p.AncestorID, &p.DescendantID, &p.Depth); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- capabilities, roles, role_capabilities ----------------------------

func (q *Queries) SeedCapability(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO capabilities (key, created_at) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, time.Now().UTC())
	return err
}

func (q *Queries) CreateRole(ctx context.Context, r *domain.Role) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO roles (id, tenant_id, label, created_at) VALUES ($1,$2,$3,$4)`,
		r.ID, r.TenantID, r.Label, r.CreatedAt)
	return err
}

func (q *Queries) GetRole(ctx context.Context, tenantID, id uuid.UUID) (*domain.Role, error) {
	var r domain.Role
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, label, created_at FROM roles WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&r.ID, &r.TenantID, &r.Label, &r.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (q *Queries) AttachCapability(ctx context.Context, roleID uuid.UUID, capabilityKey string) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO role_capabilities (role_id, capability_key) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		roleID, capabilityKey)
	return err
}

func (q *Queries) DetachCapability(ctx context.Context, roleID uuid.UUID, capabilityKey string) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM role_capabilities WHERE role_id = $1 AND capability_key = $2`, roleID, capabilityKey)
	return err
}

// RoleCapabilities returns every capability key attached to roleID.
func (q *Queries) RoleCapabilities(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT capability_key FROM role_capabilities WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// --- org assignments & visibility grants --------------------------------

func (q *Queries) CreateAssignment(ctx context.Context, a *domain.OrgAssignment) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO org_assignments (id, tenant_id, user_id, org_node_id, role_id, start_utc, end_utc)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.TenantID, a.UserID, a.OrgNodeID, a.RoleID, a.StartUTC, a.EndUTC)
	return err
}

func (q *Queries) GetAssignment(ctx context.Context, tenantID, id uuid.UUID) (*domain.OrgAssignment, error) {
	var a domain.OrgAssignment
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, org_node_id, role_id, start_utc, end_utc
		 FROM org_assignments WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&a.ID, &a.TenantID, &a.UserID, &a.OrgNodeID, &a.RoleID, &a.StartUTC, &a.EndUTC)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (q *Queries) GetVisibilityGrant(ctx context.Context, tenantID, id uuid.UUID) (*domain.VisibilityGrant, error) {
	var g domain.VisibilityGrant
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, org_node_id, access_scope, start_utc, end_utc
		 FROM visibility_grants WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&g.ID, &g.TenantID, &g.UserID, &g.OrgNodeID, &g.AccessScope, &g.StartUTC, &g.EndUTC)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (q *Queries) TerminateAssignment(ctx context.Context, tenantID, id uuid.UUID, endUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE org_assignments SET end_utc = $3 WHERE tenant_id = $1 AND id = $2 AND end_utc IS NULL`,
		tenantID, id, endUTC)
	return err
}

// AssignmentsForUser returns every assignment for userID ordered by
// id ascending, the deterministic tie-break the engine relies on.
// Filtering by active-at-now is done in Go against StartUTC/EndUTC so
// callers can also reuse this for "active at an arbitrary instant"
// checks.
func (q *Queries) AssignmentsForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.OrgAssignment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, tenant_id, user_id, org_node_id, role_id, start_utc, end_utc
		 FROM org_assignments WHERE tenant_id = $1 AND user_id = $2 ORDER BY id ASC`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgAssignment
	for rows.Next() {
		var a domain.OrgAssignment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.UserID, &a.OrgNodeID, &a.RoleID, &a.StartUTC, &a.EndUTC); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) CreateVisibilityGrant(ctx context.Context, g *domain.VisibilityGrant) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO visibility_grants (id, tenant_id, user_id, org_node_id, access_scope, start_utc, end_utc)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		g.ID, g.TenantID, g.UserID, g.OrgNodeID, g.AccessScope, g.StartUTC, g.EndUTC)
	return err
}

func (q *Queries) RevokeVisibilityGrant(ctx context.Context, tenantID, id uuid.UUID, endUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE visibility_grants SET end_utc = $3 WHERE tenant_id = $1 AND id = $2 AND end_utc IS NULL`,
		tenantID, id, endUTC)
	return err
}

func (q *Queries) VisibilityGrantsForUser(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.VisibilityGrant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, tenant_id, user_id, org_node_id, access_scope, start_utc, end_utc
		 FROM visibility_grants WHERE tenant_id = $1 AND user_id = $2 ORDER BY id ASC`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.VisibilityGrant
	for rows.Next() {
		var g domain.VisibilityGrant
		if err := rows.Scan(&g.ID, &g.TenantID, &g.UserID, &g.OrgNodeID, &g.AccessScope, &g.StartUTC, &g.EndUTC); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- invitations ---------------------------------------------------------

func (q *Queries) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO invitations (id, tenant_id, email, phone, inviter_id, target_role_id, target_org_node_id, token_hash, expiry_utc, accepted_utc)
		 VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10)`,
		inv.ID, inv.TenantID, inv.Email, inv.Phone, inv.InviterID, inv.TargetRoleID, inv.TargetOrgNode, inv.TokenHash, inv.ExpiryUTC, inv.AcceptedUTC)
	return err
}

func (q *Queries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, COALESCE(email,''), COALESCE(phone,''), inviter_id, target_role_id, target_org_node_id, token_hash, expiry_utc, accepted_utc
		 FROM invitations WHERE token_hash = $1`, tokenHash,
	).Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Phone, &inv.InviterID, &inv.TargetRoleID, &inv.TargetOrgNode, &inv.TokenHash, &inv.ExpiryUTC, &inv.AcceptedUTC)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (q *Queries) MarkInvitationAccepted(ctx context.Context, id uuid.UUID, acceptedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE invitations SET accepted_utc = $2 WHERE id = $1 AND accepted_utc IS NULL`, id, acceptedUTC)
	return err
}

// --- refresh sessions ----------------------------------------------------

func (q *Queries) CreateRefreshSession(ctx context.Context, s *domain.RefreshSession) error {
	var ip *string
	if s.ClientIP != nil {
		v := s.ClientIP.String()
		ip = &v
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO refresh_sessions (id, user_id, tenant_id, token_hash, client_ip, user_agent, expiry_utc, revoked_utc)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.UserID, s.TenantID, s.TokenHash, ip, s.UserAgent, s.ExpiryUTC, s.RevokedUTC)
	return err
}

func (q *Queries) GetRefreshSessionByHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	var s domain.RefreshSession
	var ip *string
	err := q.db.QueryRow(ctx,
		`SELECT id, user_id, tenant_id, token_hash, client_ip, user_agent, expiry_utc, revoked_utc
		 FROM refresh_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&s.ID, &s.UserID, &s.TenantID, &s.TokenHash, &ip, &s.UserAgent, &s.ExpiryUTC, &s.RevokedUTC)
	if err != nil {
		return nil, notFound(err)
	}
	if ip != nil {
		s.ClientIP = net.ParseIP(*ip)
	}
	return &s, nil
}

func (q *Queries) RevokeRefreshSession(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE refresh_sessions SET revoked_utc = $2 WHERE id = $1 AND revoked_utc IS NULL`, id, revokedUTC)
	return err
}

// RevokeSessionFamily revokes every session for userID. Used on
// refresh token reuse detection: a replayed token revokes the whole
// family rather than just the one session.
func (q *Queries) RevokeSessionFamily(ctx context.Context, userID uuid.UUID, revokedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE refresh_sessions SET revoked_utc = $2 WHERE user_id = $1 AND revoked_utc IS NULL`, userID, revokedUTC)
	return err
}

func (q *Queries) SessionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.RefreshSession, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, tenant_id, token_hash, client_ip, user_agent, expiry_utc, revoked_utc
		 FROM refresh_sessions WHERE user_id = $1 ORDER BY expiry_utc DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RefreshSession
	for rows.Next() {
		var s domain.RefreshSession
		var ip *string
		if err := rows.Scan(&s.ID, &s.UserID, &s.TenantID, &s.TokenHash, &ip, &s.UserAgent, &s.ExpiryUTC, &s.RevokedUTC); err != nil {
			return nil, err
		}
		if ip != nil {
			s.ClientIP = net.ParseIP(*ip)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- otp codes -------------------------------------------------------

func (q *Queries) CreateOTP(ctx context.Context, o *domain.OtpCode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO otp_codes (id, tenant_id, destination, channel, purpose, code_hash, expiry_utc, consumed_utc, attempt_count, attempt_max)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.TenantID, o.Destination, o.Channel, o.Purpose, o.CodeHash, o.ExpiryUTC, o.ConsumedUTC, o.AttemptCount, o.AttemptMax)
	return err
}

func (q *Queries) GetOTPByID(ctx context.Context, id uuid.UUID) (*domain.OtpCode, error) {
	var o domain.OtpCode
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, destination, channel, purpose, code_hash, expiry_utc, consumed_utc, attempt_count, attempt_max
		 FROM otp_codes WHERE id = $1`, id,
	).Scan(&o.ID, &o.TenantID, &o.Destination, &o.Channel, &o.Purpose, &o.CodeHash, &o.ExpiryUTC, &o.ConsumedUTC, &o.AttemptCount, &o.AttemptMax)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (q *Queries) GetLatestOTP(ctx context.Context, tenantID uuid.UUID, destination string, purpose domain.OtpPurpose) (*domain.OtpCode, error) {
	var o domain.OtpCode
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, destination, channel, purpose, code_hash, expiry_utc, consumed_utc, attempt_count, attempt_max
		 FROM otp_codes WHERE tenant_id = $1 AND destination = $2 AND purpose = $3
		 ORDER BY expiry_utc DESC LIMIT 1`, tenantID, destination, purpose,
	).Scan(&o.ID, &o.TenantID, &o.Destination, &o.Channel, &o.Purpose, &o.CodeHash, &o.ExpiryUTC, &o.ConsumedUTC, &o.AttemptCount, &o.AttemptMax)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (q *Queries) IncrementOTPAttempt(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE otp_codes SET attempt_count = attempt_count + 1 WHERE id = $1`, id)
	return err
}

func (q *Queries) ConsumeOTP(ctx context.Context, id uuid.UUID, consumedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE otp_codes SET consumed_utc = $2 WHERE id = $1 AND consumed_utc IS NULL`, id, consumedUTC)
	return err
}

// CountRecentOTPIssuances supports the issuance rate limit: at most
// OTPIssueRateLimit codes per destination within OTPIssueRateWindow.
func (q *Queries) CountRecentOTPIssuances(ctx context.Context, tenantID uuid.UUID, destination string, since time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM otp_codes WHERE tenant_id = $1 AND destination = $2 AND expiry_utc > $3`,
		tenantID, destination, since,
	).Scan(&n)
	return n, err
}

// --- services & service secrets/permissions -----------------------------

func (q *Queries) CreateService(ctx context.Context, s *domain.Service) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO services (id, tenant_id, key, label, state, rate_limit_per_min, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.TenantID, s.Key, s.Label, s.State, s.RateLimitPerMin, s.CreatedAt)
	return err
}

func (q *Queries) GetServiceByKey(ctx context.Context, key string) (*domain.Service, error) {
	var s domain.Service
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, key, label, state, rate_limit_per_min, created_at FROM services WHERE key = $1`, key,
	).Scan(&s.ID, &s.TenantID, &s.Key, &s.Label, &s.State, &s.RateLimitPerMin, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (q *Queries) GetServiceByID(ctx context.Context, id uuid.UUID) (*domain.Service, error) {
	var s domain.Service
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, key, label, state, rate_limit_per_min, created_at FROM services WHERE id = $1`, id,
	).Scan(&s.ID, &s.TenantID, &s.Key, &s.Label, &s.State, &s.RateLimitPerMin, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (q *Queries) SetServiceState(ctx context.Context, id uuid.UUID, state domain.ServiceState) error {
	_, err := q.db.Exec(ctx, `UPDATE services SET state = $2 WHERE id = $1`, id, state)
	return err
}

func (q *Queries) CreateServiceSecret(ctx context.Context, s *domain.ServiceSecret) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO service_secrets (id, service_id, secret_hash, revoked_utc, created_at)
		 VALUES ($1,$2,$3,$4,$5)`, s.ID, s.ServiceID, s.SecretHash, s.RevokedUTC, s.CreatedAt)
	return err
}

// ActiveServiceSecrets returns every non-revoked secret generation for
// a service, newest first, so verification can try each in turn.
func (q *Queries) ActiveServiceSecrets(ctx context.Context, serviceID uuid.UUID) ([]domain.ServiceSecret, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, service_id, secret_hash, revoked_utc, created_at
		 FROM service_secrets WHERE service_id = $1 AND revoked_utc IS NULL ORDER BY created_at DESC`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ServiceSecret
	for rows.Next() {
		var s domain.ServiceSecret
		if err := rows.Scan(&s.ID, &s.ServiceID, &s.SecretHash, &s.RevokedUTC, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) RevokeServiceSecret(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE service_secrets SET revoked_utc = $2 WHERE id = $1`, id, revokedUTC)
	return err
}

func (q *Queries) GrantServicePermission(ctx context.Context, serviceID uuid.UUID, permKey string) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO service_permissions (service_id, perm_key) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		serviceID, permKey)
	return err
}

func (q *Queries) RevokeServicePermission(ctx context.Context, serviceID uuid.UUID, permKey string) error {
	_, err := q.db.Exec(ctx,
		`DELETE FROM service_permissions WHERE service_id = $1 AND perm_key = $2`, serviceID, permKey)
	return err
}

func (q *Queries) ServicePermissions(ctx context.Context, serviceID uuid.UUID) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT perm_key FROM service_permissions WHERE service_id = $1`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// --- service sessions ----------------------------------------------------

func (q *Queries) CreateServiceSession(ctx context.Context, s *domain.ServiceSession) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO service_sessions (id, service_id, token_hash, expiry_utc, revoked_utc)
		 VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.ServiceID, s.TokenHash, s.ExpiryUTC, s.RevokedUTC)
	return err
}

func (q *Queries) GetServiceSessionByHash(ctx context.Context, tokenHash string) (*domain.ServiceSession, error) {
	var s domain.ServiceSession
	err := q.db.QueryRow(ctx,
		`SELECT id, service_id, token_hash, expiry_utc, revoked_utc
		 FROM service_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&s.ID, &s.ServiceID, &s.TokenHash, &s.ExpiryUTC, &s.RevokedUTC)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (q *Queries) RevokeServiceSession(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE service_sessions SET revoked_utc = $2 WHERE id = $1 AND revoked_utc IS NULL`, id, revokedUTC)
	return err
}

// RevokeServiceSessionFamily revokes every session for a service, the
// reuse-detection response mirroring RevokeSessionFamily for users.
func (q *Queries) RevokeServiceSessionFamily(ctx context.Context, serviceID uuid.UUID, revokedUTC time.Time) error {
	_, err := q.db.Exec(ctx,
		`UPDATE service_sessions SET revoked_utc = $2 WHERE service_id = $1 AND revoked_utc IS NULL`, serviceID, revokedUTC)
	return err
}

// --- audit events ---------------------------------------------------------

func (q *Queries) CreateAuditEvent(ctx context.Context, e *domain.AuditEvent, payload []byte) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO audit_events (id, tenant_id, actor_user_id, actor_svc_id, action_key, entity_kind, entity_id, occurred_utc, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TenantID, e.ActorUserID, e.ActorSvcID, e.ActionKey, e.EntityKind, e.EntityID, e.OccurredUTC, payload)
	return err
}
