// Package servicetrust implements the service trust plane: HTTP Basic
// and signed-envelope authentication for service principals, replay
// prevention, rate-limit/bot-bypass, and secret rotation. It is the
// service-principal analogue of internal/credential.
package servicetrust

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/storage"
)

var (
	ErrUnknownService   = errors.New("servicetrust: unknown service")
	ErrServiceDisabled  = errors.New("servicetrust: service is disabled")
	ErrBadSecret        = errors.New("servicetrust: secret mismatch")
	ErrSignatureExpired = errors.New("servicetrust: signature outside replay window")
	ErrReplayedNonce    = errors.New("servicetrust: nonce already seen")
	ErrBadSignature     = errors.New("servicetrust: signature mismatch")
)

const DefaultReplayWindow = 60 * time.Second

// Store is the slice of the persistence adapter the trust plane
// consumes. *storage.Queries satisfies it; tests substitute an
// in-memory fake.
type Store interface {
	GetServiceByKey(ctx context.Context, key string) (*domain.Service, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*domain.Service, error)
	CreateService(ctx context.Context, s *domain.Service) error
	SetServiceState(ctx context.Context, id uuid.UUID, state domain.ServiceState) error
	CreateServiceSecret(ctx context.Context, s *domain.ServiceSecret) error
	ActiveServiceSecrets(ctx context.Context, serviceID uuid.UUID) ([]domain.ServiceSecret, error)
	RevokeServiceSecret(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error
	ServicePermissions(ctx context.Context, serviceID uuid.UUID) ([]string, error)
	CreateServiceSession(ctx context.Context, s *domain.ServiceSession) error
	GetServiceSessionByHash(ctx context.Context, tokenHash string) (*domain.ServiceSession, error)
	RevokeServiceSession(ctx context.Context, id uuid.UUID, revokedUTC time.Time) error
	RevokeServiceSessionFamily(ctx context.Context, serviceID uuid.UUID, revokedUTC time.Time) error
}

var _ Store = (*storage.Queries)(nil)

// NonceCache is the replay-prevention seam: a process-wide,
// best-effort cache of (client_id, nonce) pairs seen within the replay
// window. internal/cache backs this with Redis or an in-process map.
// Nonces are not persisted in the store, so replay detection rests on
// this cache alone.
type NonceCache interface {
	// SeenOrRemember atomically checks whether (clientID, nonce) has been
	// recorded before and, if not, records it with the given TTL. Returns
	// true if this is a replay.
	SeenOrRemember(ctx context.Context, clientID, nonce string, ttl time.Duration) (replay bool, err error)
}

// Verifier authenticates service principals over HTTP Basic or the
// signed-request envelope.
type Verifier struct {
	Queries     Store
	Secrets     *SecretBox
	Nonces      NonceCache
	Audit       audit.Sink
	SkewSeconds time.Duration
	Clock       func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}

func (v *Verifier) skew() time.Duration {
	if v.SkewSeconds > 0 {
		return v.SkewSeconds
	}
	return DefaultReplayWindow
}

// resolveActiveService loads a service by key and checks its state.
func (v *Verifier) resolveActiveService(ctx context.Context, key string) (*domain.Service, error) {
	svc, err := v.Queries.GetServiceByKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownService
		}
		return nil, err
	}
	if !svc.IsActive() {
		return nil, ErrServiceDisabled
	}
	return svc, nil
}

// VerifyBasicAuth checks service_key:service_secret against any
// non-revoked secret generation for that service, so rotation stays
// zero-downtime.
func (v *Verifier) VerifyBasicAuth(ctx context.Context, serviceKey, secret string) (*domain.Service, error) {
	svc, err := v.resolveActiveService(ctx, serviceKey)
	if err != nil {
		return nil, err
	}

	secrets, err := v.activeSecretHashes(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	for _, s := range secrets {
		plain, err := v.Secrets.Open(s.SecretHash)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(secret)) == 1 {
			return svc, nil
		}
	}
	return nil, ErrBadSecret
}

// EnvelopeRequest carries the fields the signed-request envelope
// covers. The string-to-sign is METHOD||PATH||TIMESTAMP||NONCE||BODY.
type EnvelopeRequest struct {
	ClientID  string
	Method    string
	Path      string
	Timestamp string // unix seconds, as presented in X-Timestamp
	Nonce     string
	Body      []byte
	Signature string // lowercase hex, as presented in X-Signature
}

// activeSecretHashes returns the current non-revoked secret generation(s)
// for a service, letting callers try each in turn so rotation stays
// zero-downtime for both Basic auth and signed requests.
func (v *Verifier) activeSecretHashes(ctx context.Context, serviceID uuid.UUID) ([]domain.ServiceSecret, error) {
	return v.Queries.ActiveServiceSecrets(ctx, serviceID)
}

// VerifySignedEnvelope validates a signed request: timestamp within
// the skew window, (client_id, nonce) not replayed,
// and a constant-time-equal HMAC-SHA256 signature over
// METHOD||PATH||TIMESTAMP||NONCE||BODY using the client's current
// signing secret, decrypted on the fly via the Verifier's SecretBox.
func (v *Verifier) VerifySignedEnvelope(ctx context.Context, req EnvelopeRequest) (*domain.Service, error) {
	svc, err := v.resolveActiveService(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	ts, err := parseUnixSeconds(req.Timestamp)
	if err != nil {
		return nil, ErrSignatureExpired
	}
	if absDuration(v.now().Sub(ts)) > v.skew() {
		return nil, ErrSignatureExpired
	}

	replay, err := v.Nonces.SeenOrRemember(ctx, req.ClientID, req.Nonce, v.skew())
	if err != nil {
		return nil, fmt.Errorf("servicetrust: nonce cache: %w", err)
	}
	if replay {
		return nil, ErrReplayedNonce
	}

	secrets, err := v.activeSecretHashes(ctx, svc.ID)
	if err != nil {
		return nil, err
	}

	stringToSign := req.Method + req.Path + req.Timestamp + req.Nonce + string(req.Body)
	for _, s := range secrets {
		plain, err := v.Secrets.Open(s.SecretHash)
		if err != nil {
			continue
		}
		if checkHMAC(stringToSign, plain, req.Signature) {
			return svc, nil
		}
	}
	return nil, ErrBadSignature
}

func checkHMAC(message, secret, presented string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	want := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(presented)) == 1
}

func parseUnixSeconds(s string) (time.Time, error) {
	var sec int64
	if _, err := fmt.Sscanf(s, "%d", &sec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// HasPermission reports whether a service carries permKey. Services do
// not carry org assignments; their authorization is flat
// per-permission.
func (v *Verifier) HasPermission(ctx context.Context, serviceID uuid.UUID, permKey string) (bool, error) {
	perms, err := v.Queries.ServicePermissions(ctx, serviceID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permKey {
			return true, nil
		}
	}
	return false, nil
}
