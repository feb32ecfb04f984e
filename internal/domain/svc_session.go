package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServiceSession is a rotating bearer token issued to a service
// principal via POST /svc/token, the optional third trust mode next to
// Basic auth and the signed envelope. Semantics mirror RefreshSession:
// only the SHA-256 of the token is stored, renewal rotates, and reuse
// of a rotated token revokes the whole family.
type ServiceSession struct {
	ID         uuid.UUID
	ServiceID  uuid.UUID
	TokenHash  string
	ExpiryUTC  time.Time
	RevokedUTC *time.Time
}

// IsRevoked reports whether the session has been explicitly revoked.
func (s *ServiceSession) IsRevoked() bool {
	return s.RevokedUTC != nil
}

// IsExpired reports whether the session has lazily expired.
func (s *ServiceSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiryUTC)
}

// IsActive reports whether the token may still authenticate requests.
func (s *ServiceSession) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}
