// Package credential implements the credential and session manager:
// password registration/login, OTP issuance/verification, and refresh
// session rotation with reuse detection. It is the layer that produces
// an authenticated subject for internal/authz to evaluate against; it
// never implements authorization decisions itself.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/notify"
	"github.com/veltrix/authzcore/internal/storage"
	"github.com/veltrix/authzcore/internal/token"
)

var (
	ErrBadCredentials = errors.New("credential: bad credentials")
	ErrEmailTaken     = errors.New("credential: email already registered")
	ErrSessionReplay  = errors.New("credential: refresh session reuse detected")
	ErrSessionExpired = errors.New("credential: refresh session expired")
)

const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// TokenIssuer is the seam into internal/token the manager needs. Kept
// as an interface so tests can substitute a fake signer.
type TokenIssuer interface {
	IssueAccessToken(userID, tenantID uuid.UUID, email string) (string, error)
	ValidateToken(tokenString string) (*token.Claims, error)
}

// Store is the slice of the persistence adapter the credential manager
// consumes. *storage.Queries satisfies it; tests substitute an
// in-memory fake.
type Store interface {
	GetTenantByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	MarkUserEmailVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	MarkUserPhoneVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	CreateUserIdentity(ctx context.Context, ui *domain.UserIdentity) error
	GetUserIdentity(ctx context.Context, userID uuid.UUID, provider domain.IdentityProvider) (*domain.UserIdentity, error)
	CreateRefreshSession(ctx context.Context, s *domain.RefreshSession) error
	GetRefreshSessionByHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error
	RevokeSessionFamily(ctx context.Context, userID uuid.UUID, revokedUTC time.Time) error
	CreateOTP(ctx context.Context, o *domain.OtpCode) error
	GetLatestOTP(ctx context.Context, tenantID uuid.UUID, destination string, purpose domain.OtpPurpose) (*domain.OtpCode, error)
	GetOTPByID(ctx context.Context, id uuid.UUID) (*domain.OtpCode, error)
	IncrementOTPAttempt(ctx context.Context, id uuid.UUID) error
	ConsumeOTP(ctx context.Context, id uuid.UUID, consumedUTC time.Time) error
	CountRecentOTPIssuances(ctx context.Context, tenantID uuid.UUID, destination string, since time.Time) (int, error)
}

var _ Store = (*storage.Queries)(nil)

// Manager composes password hashing, OTP, and refresh-session rotation
// against the persistence adapter. It is constructed once per process
// and is safe for concurrent use.
type Manager struct {
	Queries    Store
	Hasher     PasswordHasher
	Tokens     TokenIssuer
	Audit      audit.Sink
	Notify     notify.Sink
	RefreshTTL time.Duration
	Clock      func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now().UTC()
}

func (m *Manager) refreshTTL() time.Duration {
	if m.RefreshTTL > 0 {
		return m.RefreshTTL
	}
	return DefaultRefreshTokenTTL
}

// TokenPair is the access/refresh pair returned by login, refresh,
// invitation acceptance, and OTP login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// GenerateSecureToken returns a hex token of n random bytes, used for
// refresh tokens (32 bytes) and invitation tokens (16 bytes).
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("credential: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Only the
// hash is ever persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Register creates a new user with a password identity. Fails with
// ErrEmailTaken if (tenant, email) already resolves to a user.
func (m *Manager) Register(ctx context.Context, tenantID uuid.UUID, email, password, displayLabel string, ip net.IP, userAgent string) (*domain.User, *TokenPair, error) {
	if _, err := m.Queries.GetUserByEmail(ctx, tenantID, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, err
	}

	hash, err := m.Hasher.Hash(password)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: hash password: %w", err)
	}

	user, err := domain.NewUser(uuid.New(), tenantID, email, "", displayLabel)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Queries.CreateUser(ctx, user); err != nil {
		return nil, nil, err
	}

	identity := &domain.UserIdentity{
		ID:              uuid.New(),
		UserID:          user.ID,
		Provider:        domain.ProviderPassword,
		ProviderSubject: user.ID.String(),
		CredentialHash:  hash,
		CreatedAt:       m.now(),
	}
	if err := m.Queries.CreateUserIdentity(ctx, identity); err != nil {
		return nil, nil, err
	}

	pair, err := m.issueSessionFor(ctx, user, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.Audit.Log(ctx, domain.ActionUserRegister, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: user.ID, Valid: true},
		EntityKind: "user",
		EntityID:   user.ID,
		Payload:    map[string]any{"email_domain": emailDomain(email)},
	})

	return user, pair, nil
}

// Login verifies a password identity and, on success, mints a new
// session pair.
func (m *Manager) Login(ctx context.Context, tenantID uuid.UUID, email, password string, ip net.IP, userAgent string) (*domain.User, *TokenPair, error) {
	tenant, err := m.Queries.GetTenantByID(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !tenant.IsActive() {
		return nil, nil, apperr.New(apperr.KindForbidden, apperr.ReasonTenantSuspended)
	}

	user, err := m.Queries.GetUserByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.logLoginFailure(ctx, tenantID, email)
			return nil, nil, ErrBadCredentials
		}
		return nil, nil, err
	}
	if !user.IsActive() {
		m.logLoginFailure(ctx, tenantID, email)
		return nil, nil, ErrBadCredentials
	}

	identity, err := m.Queries.GetUserIdentity(ctx, user.ID, domain.ProviderPassword)
	if err != nil {
		m.logLoginFailure(ctx, tenantID, email)
		return nil, nil, ErrBadCredentials
	}
	if err := m.Hasher.Compare(identity.CredentialHash, password); err != nil {
		m.logLoginFailure(ctx, tenantID, email)
		return nil, nil, ErrBadCredentials
	}

	pair, err := m.issueSessionFor(ctx, user, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.Audit.Log(ctx, domain.ActionLoginSuccess, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: user.ID, Valid: true},
		EntityKind: "user",
		EntityID:   user.ID,
	})

	return user, pair, nil
}

func (m *Manager) logLoginFailure(ctx context.Context, tenantID uuid.UUID, email string) {
	m.Audit.Log(ctx, domain.ActionLoginFailure, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
		EntityKind: "user",
		Payload:    map[string]any{"email_domain": emailDomain(email)},
	})
}

// issueSessionFor mints an access token plus a fresh refresh session
// for user, persisting only the refresh token's hash.
func (m *Manager) issueSessionFor(ctx context.Context, user *domain.User, ip net.IP, userAgent string) (*TokenPair, error) {
	access, err := m.Tokens.IssueAccessToken(user.ID, user.TenantID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("credential: issue access token: %w", err)
	}

	raw, err := GenerateSecureToken(32)
	if err != nil {
		return nil, err
	}
	session := &domain.RefreshSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: HashToken(raw),
		ClientIP:  ip,
		UserAgent: userAgent,
		ExpiryUTC: m.now().Add(m.refreshTTL()),
	}
	if err := m.Queries.CreateRefreshSession(ctx, session); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: raw}, nil
}

// Refresh performs the rotating exchange: the presented session is
// revoked and a new one issued, with the loser of a concurrent race
// observing ErrSessionReplay. If the presented token is already
// revoked, every active session for its user is revoked (reuse
// detection). An unknown token fails with ErrSessionReplay and revokes
// nothing, since it resolves to no user.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, ip net.IP, userAgent string) (*domain.User, *TokenPair, error) {
	hash := HashToken(refreshToken)
	session, err := m.Queries.GetRefreshSessionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrSessionReplay
		}
		return nil, nil, err
	}

	now := m.now()
	if session.IsRevoked() {
		// Reuse of an already-rotated token: nuke the whole family.
		_ = m.Queries.RevokeSessionFamily(ctx, session.UserID, now)
		m.Audit.Log(ctx, domain.ActionSessionReplay, audit.Fields{
			TenantID:   uuid.NullUUID{UUID: session.TenantID, Valid: true},
			ActorUser:  uuid.NullUUID{UUID: session.UserID, Valid: true},
			EntityKind: "refresh_session",
			EntityID:   session.ID,
		})
		return nil, nil, ErrSessionReplay
	}
	if session.IsExpired(now) {
		return nil, nil, ErrSessionExpired
	}

	// Rotate: revoke the presented session first. If this update affects
	// zero rows a concurrent refresh already won the race.
	if err := m.Queries.RevokeRefreshSession(ctx, session.ID, now); err != nil {
		return nil, nil, err
	}

	user, err := m.Queries.GetUserByID(ctx, session.TenantID, session.UserID)
	if err != nil {
		return nil, nil, err
	}

	pair, err := m.issueSessionFor(ctx, user, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.Audit.Log(ctx, domain.ActionRefresh, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: session.TenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: session.UserID, Valid: true},
		EntityKind: "refresh_session",
		EntityID:   session.ID,
	})

	return user, pair, nil
}

// Logout revokes a single refresh session. Revocation of an
// already-revoked session is a no-op.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	hash := HashToken(refreshToken)
	session, err := m.Queries.GetRefreshSessionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := m.Queries.RevokeRefreshSession(ctx, session.ID, m.now()); err != nil {
		return err
	}
	m.Audit.Log(ctx, domain.ActionLogout, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: session.TenantID, Valid: true},
		ActorUser:  uuid.NullUUID{UUID: session.UserID, Valid: true},
		EntityKind: "refresh_session",
		EntityID:   session.ID,
	})
	return nil
}

// ValidateAccess verifies an access token's signature and expiry, then
// checks tenant state: tokens of a suspended tenant yield
// TenantSuspended even when cryptographically valid.
func (m *Manager) ValidateAccess(ctx context.Context, tokenString string) (*token.Claims, error) {
	claims, err := m.Tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	tenant, err := m.Queries.GetTenantByID(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, apperr.New(apperr.KindForbidden, apperr.ReasonTenantSuspended)
	}
	return claims, nil
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
