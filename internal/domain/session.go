package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// RefreshSession is an issued refresh token, identified only by the
// SHA-256 hash of its value; the raw token is never stored. A session
// is active until revoked or, lazily, until expiry.
type RefreshSession struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TenantID   uuid.UUID
	TokenHash  string
	ClientIP   net.IP
	UserAgent  string
	ExpiryUTC  time.Time
	RevokedUTC *time.Time
}

// IsRevoked reports whether the session has been explicitly revoked.
func (s *RefreshSession) IsRevoked() bool {
	return s.RevokedUTC != nil
}

// IsExpired reports whether the session has lazily expired.
func (s *RefreshSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiryUTC)
}

// IsActive reports whether the session may still be used for a refresh
// exchange.
func (s *RefreshSession) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}

// Revoke marks the session terminal, idempotently.
func (s *RefreshSession) Revoke(now time.Time) {
	if s.RevokedUTC == nil {
		s.RevokedUTC = &now
	}
}
