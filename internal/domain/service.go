package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServiceState models the lifecycle of a service principal.
type ServiceState string

const (
	ServiceActive   ServiceState = "active"
	ServiceDisabled ServiceState = "disabled"
)

// Service is a non-user principal authenticating via HTTP Basic or a
// signed request envelope. TenantID is null (Valid == false) for
// platform-level services.
type Service struct {
	ID              uuid.UUID
	TenantID        uuid.NullUUID
	Key             string
	Label           string
	State           ServiceState
	RateLimitPerMin int // 0 == exempt from rate limiting and bot heuristics
	CreatedAt       time.Time
}

// IsActive reports whether the service may currently authenticate.
func (s *Service) IsActive() bool {
	return s.State == ServiceActive
}

// IsRateLimitExempt reports whether the service skips rate limiting
// and bot-detection heuristics. Services configured with
// rate_limit_per_min == 0 bypass both once they present a valid signed
// request.
func (s *Service) IsRateLimitExempt() bool {
	return s.RateLimitPerMin == 0
}

// ServiceSecret is one generation of a service's signing/basic-auth
// secret. Rotation inserts a new row and revokes the prior one so
// verification can accept any non-revoked row (zero-downtime
// rotation).
//
// SecretHash holds the secret as AES-256-GCM ciphertext (servicetrust.SecretBox),
// not a one-way hash: a signed-envelope request's HMAC can only be
// recomputed and checked against the raw secret, so Basic-auth
// comparison and envelope verification both decrypt this field rather
// than treating it as a bcrypt digest. The field keeps its name for
// schema continuity.
type ServiceSecret struct {
	ID         uuid.UUID
	ServiceID  uuid.UUID
	SecretHash string
	RevokedUTC *time.Time
	CreatedAt  time.Time
}

// IsRevoked reports whether this secret generation has been retired.
func (s *ServiceSecret) IsRevoked() bool {
	return s.RevokedUTC != nil
}

// ServicePermission attaches a flat perm_key to a Service. Services do
// not carry org assignments; their authorization is flat
// per-permission.
type ServicePermission struct {
	ServiceID uuid.UUID
	PermKey   string
}
