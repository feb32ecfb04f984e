package servicetrust

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/storage"
)

var (
	ErrServiceTokenReplay  = errors.New("servicetrust: service token reuse detected")
	ErrServiceTokenExpired = errors.New("servicetrust: service token expired")
)

const DefaultServiceTokenTTL = time.Hour

// IssueToken mints a bearer token for an already-authenticated service
// (POST /svc/token). The caller must have passed Basic or envelope
// verification first. Semantics mirror user refresh sessions: the raw
// token is returned once, only its hash persists, and RenewToken
// rotates it.
func (v *Verifier) IssueToken(ctx context.Context, serviceID uuid.UUID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultServiceTokenTTL
	}
	raw, err := credential.GenerateSecureToken(32)
	if err != nil {
		return "", err
	}
	session := &domain.ServiceSession{
		ID:        uuid.New(),
		ServiceID: serviceID,
		TokenHash: credential.HashToken(raw),
		ExpiryUTC: v.now().Add(ttl),
	}
	if err := v.Queries.CreateServiceSession(ctx, session); err != nil {
		return "", err
	}
	return raw, nil
}

// VerifyToken resolves a presented bearer token to its service
// principal, checking session liveness and service state.
func (v *Verifier) VerifyToken(ctx context.Context, rawToken string) (*domain.Service, error) {
	session, err := v.Queries.GetServiceSessionByHash(ctx, credential.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownService
		}
		return nil, err
	}
	now := v.now()
	if session.IsRevoked() {
		return nil, ErrServiceTokenReplay
	}
	if session.IsExpired(now) {
		return nil, ErrServiceTokenExpired
	}
	svc, err := v.Queries.GetServiceByID(ctx, session.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive() {
		return nil, ErrServiceDisabled
	}
	return svc, nil
}

// RenewToken performs the rotating exchange for service tokens,
// mirroring refresh-session rotation: the presented token is revoked
// and a new one issued; presenting an already-rotated token revokes the
// service's whole session family and fails with ErrServiceTokenReplay.
func (v *Verifier) RenewToken(ctx context.Context, rawToken string, ttl time.Duration) (string, error) {
	session, err := v.Queries.GetServiceSessionByHash(ctx, credential.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrServiceTokenReplay
		}
		return "", err
	}

	now := v.now()
	if session.IsRevoked() {
		_ = v.Queries.RevokeServiceSessionFamily(ctx, session.ServiceID, now)
		return "", ErrServiceTokenReplay
	}
	if session.IsExpired(now) {
		return "", ErrServiceTokenExpired
	}

	if err := v.Queries.RevokeServiceSession(ctx, session.ID, now); err != nil {
		return "", err
	}
	return v.IssueToken(ctx, session.ServiceID, ttl)
}
