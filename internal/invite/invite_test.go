package invite_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/invite"
	"github.com/veltrix/authzcore/internal/storage"
	"github.com/veltrix/authzcore/internal/token"
)

// fakeOnboardingStore backs both the invitation flow and the credential
// manager it composes.
type fakeOnboardingStore struct {
	tenants     map[uuid.UUID]*domain.Tenant
	users       map[uuid.UUID]*domain.User
	identities  map[string]*domain.UserIdentity
	sessions    map[uuid.UUID]*domain.RefreshSession
	invitations map[uuid.UUID]*domain.Invitation
	assignments map[uuid.UUID]*domain.OrgAssignment
}

func newOnboardingStore() *fakeOnboardingStore {
	return &fakeOnboardingStore{
		tenants:     map[uuid.UUID]*domain.Tenant{},
		users:       map[uuid.UUID]*domain.User{},
		identities:  map[string]*domain.UserIdentity{},
		sessions:    map[uuid.UUID]*domain.RefreshSession{},
		invitations: map[uuid.UUID]*domain.Invitation{},
		assignments: map[uuid.UUID]*domain.OrgAssignment{},
	}
}

func (f *fakeOnboardingStore) GetTenantByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (f *fakeOnboardingStore) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error) {
	for _, u := range f.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeOnboardingStore) GetUserByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeOnboardingStore) CreateUser(ctx context.Context, u *domain.User) error {
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeOnboardingStore) MarkUserEmailVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeOnboardingStore) MarkUserPhoneVerified(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeOnboardingStore) CreateUserIdentity(ctx context.Context, ui *domain.UserIdentity) error {
	cp := *ui
	f.identities[ui.UserID.String()+"|"+string(ui.Provider)] = &cp
	return nil
}

func (f *fakeOnboardingStore) GetUserIdentity(ctx context.Context, userID uuid.UUID, provider domain.IdentityProvider) (*domain.UserIdentity, error) {
	ui, ok := f.identities[userID.String()+"|"+string(provider)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return ui, nil
}

func (f *fakeOnboardingStore) CreateRefreshSession(ctx context.Context, s *domain.RefreshSession) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeOnboardingStore) GetRefreshSessionByHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	for _, s := range f.sessions {
		if s.TokenHash == tokenHash {
			return s, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeOnboardingStore) RevokeRefreshSession(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error {
	return nil
}

func (f *fakeOnboardingStore) RevokeSessionFamily(ctx context.Context, userID uuid.UUID, revokedUTC time.Time) error {
	return nil
}

func (f *fakeOnboardingStore) CreateOTP(ctx context.Context, o *domain.OtpCode) error { return nil }

func (f *fakeOnboardingStore) GetLatestOTP(ctx context.Context, tenantID uuid.UUID, destination string, purpose domain.OtpPurpose) (*domain.OtpCode, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeOnboardingStore) GetOTPByID(ctx context.Context, id uuid.UUID) (*domain.OtpCode, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeOnboardingStore) IncrementOTPAttempt(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeOnboardingStore) ConsumeOTP(ctx context.Context, id uuid.UUID, consumedUTC time.Time) error {
	return nil
}

func (f *fakeOnboardingStore) CountRecentOTPIssuances(ctx context.Context, tenantID uuid.UUID, destination string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeOnboardingStore) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	cp := *inv
	f.invitations[inv.ID] = &cp
	return nil
}

func (f *fakeOnboardingStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	for _, inv := range f.invitations {
		if inv.TokenHash == tokenHash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeOnboardingStore) MarkInvitationAccepted(ctx context.Context, id uuid.UUID, acceptedUTC time.Time) error {
	if inv, ok := f.invitations[id]; ok && inv.AcceptedUTC == nil {
		inv.AcceptedUTC = &acceptedUTC
	}
	return nil
}

func (f *fakeOnboardingStore) CreateAssignment(ctx context.Context, a *domain.OrgAssignment) error {
	cp := *a
	f.assignments[a.ID] = &cp
	return nil
}

var (
	_ credential.Store = (*fakeOnboardingStore)(nil)
	_ invite.Store     = (*fakeOnboardingStore)(nil)
)

type fastHasher struct{}

func (fastHasher) Hash(password string) (string, error) { return "h:" + password, nil }
func (fastHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return credential.ErrBadCredentials
	}
	return nil
}

type fakeIssuer struct{}

func (fakeIssuer) IssueAccessToken(userID, tenantID uuid.UUID, email string) (string, error) {
	return "access", nil
}
func (fakeIssuer) ValidateToken(tokenString string) (*token.Claims, error) {
	return nil, token.ErrInvalidToken
}

type nopSink struct{}

func (nopSink) Log(ctx context.Context, actionKey string, f audit.Fields) {}

type nopNotify struct{}

func (nopNotify) SendOTP(ctx context.Context, channel domain.OtpChannel, destination, code string, purpose domain.OtpPurpose) error {
	return nil
}
func (nopNotify) SendInvitation(ctx context.Context, destination, inviteURL string) error {
	return nil
}

func newInviteFixture(t *testing.T) (*invite.Manager, *fakeOnboardingStore, uuid.UUID, *time.Time) {
	t.Helper()
	store := newOnboardingStore()
	tenantID := uuid.New()
	store.tenants[tenantID] = &domain.Tenant{ID: tenantID, Slug: "acme", Label: "Acme", State: domain.TenantActive}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	creds := &credential.Manager{
		Queries: store,
		Hasher:  fastHasher{},
		Tokens:  fakeIssuer{},
		Audit:   nopSink{},
		Notify:  nopNotify{},
		Clock:   func() time.Time { return *clock },
	}
	mgr := &invite.Manager{
		Queries:    store,
		Credential: creds,
		Notify:     nopNotify{},
		Audit:      nopSink{},
		Clock:      func() time.Time { return *clock },
	}
	return mgr, store, tenantID, clock
}

func TestInvitation_CreateAndAccept(t *testing.T) {
	mgr, store, tenantID, _ := newInviteFixture(t)
	ctx := context.Background()

	inviterID := uuid.New()
	orgNodeID := uuid.New()
	roleID := uuid.New()

	rawToken, err := mgr.Create(ctx, tenantID, inviterID, orgNodeID, roleID, "new.hire@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, rawToken)

	// Only the hash is stored.
	for _, inv := range store.invitations {
		assert.NotEqual(t, rawToken, inv.TokenHash)
	}

	user, pair, err := mgr.Accept(ctx, rawToken, "a long enough password", "New Hire", net.ParseIP("10.0.0.1"), "go-test")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "new.hire@example.com", user.Email)
	assert.Equal(t, tenantID, user.TenantID)

	// Acceptance granted the target assignment.
	require.Len(t, store.assignments, 1)
	for _, a := range store.assignments {
		assert.Equal(t, user.ID, a.UserID)
		assert.Equal(t, orgNodeID, a.OrgNodeID)
		assert.Equal(t, roleID, a.RoleID)
		assert.Nil(t, a.EndUTC)
	}
}

func TestInvitation_ConsumedOnce(t *testing.T) {
	mgr, _, tenantID, _ := newInviteFixture(t)
	ctx := context.Background()

	rawToken, err := mgr.Create(ctx, tenantID, uuid.New(), uuid.New(), uuid.New(), "new.hire@example.com")
	require.NoError(t, err)

	_, _, err = mgr.Accept(ctx, rawToken, "a long enough password", "New Hire", nil, "go-test")
	require.NoError(t, err)

	_, _, err = mgr.Accept(ctx, rawToken, "a long enough password", "New Hire", nil, "go-test")
	assert.ErrorIs(t, err, invite.ErrInvitationConsumed)
}

func TestInvitation_Expired(t *testing.T) {
	mgr, _, tenantID, clock := newInviteFixture(t)
	ctx := context.Background()

	rawToken, err := mgr.Create(ctx, tenantID, uuid.New(), uuid.New(), uuid.New(), "new.hire@example.com")
	require.NoError(t, err)

	*clock = clock.Add(domain.DefaultInvitationTTL + time.Hour)

	_, _, err = mgr.Accept(ctx, rawToken, "a long enough password", "New Hire", nil, "go-test")
	assert.ErrorIs(t, err, invite.ErrInvitationExpired)
}

func TestInvitation_UnknownToken(t *testing.T) {
	mgr, _, _, _ := newInviteFixture(t)

	_, _, err := mgr.Accept(context.Background(), "never-issued", "a long enough password", "X", nil, "go-test")
	assert.ErrorIs(t, err, invite.ErrInvitationNotFound)
}

func TestInvitation_EmailAlreadyRegistered(t *testing.T) {
	mgr, _, tenantID, _ := newInviteFixture(t)
	ctx := context.Background()

	_, _, err := mgr.Credential.Register(ctx, tenantID, "taken@example.com", "a long enough password", "Existing", nil, "go-test")
	require.NoError(t, err)

	rawToken, err := mgr.Create(ctx, tenantID, uuid.New(), uuid.New(), uuid.New(), "taken@example.com")
	require.NoError(t, err)

	_, _, err = mgr.Accept(ctx, rawToken, "a long enough password", "Dup", nil, "go-test")
	assert.ErrorIs(t, err, credential.ErrEmailTaken)
}
