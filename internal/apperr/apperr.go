// Package apperr defines the fixed error taxonomy the authorization
// core uses at every layer. Domain and service code returns
// *Error values; the HTTP boundary (internal/api) maps them to a status
// code and a structured {reason_key, detail?} body.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error kinds. There is no Go type per kind;
// a single tagged struct carries the kind.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindRateLimited     Kind = "rate_limited"
	KindUnavailable     Kind = "unavailable"
)

// Error is a tagged result value carrying a closed-vocabulary reason
// key plus an optional human-readable detail and wrapped cause.
type Error struct {
	Kind      Kind
	ReasonKey string
	Detail    string
	Cause     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.ReasonKey, e.Detail)
	}
	return e.ReasonKey
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with the given kind and reason key.
func New(kind Kind, reasonKey string) *Error {
	return &Error{Kind: kind, ReasonKey: reasonKey}
}

// Wrap constructs an *Error that wraps cause, for layers that need to
// preserve the underlying error for logs while returning a tagged
// taxonomy value to callers.
func Wrap(kind Kind, reasonKey string, cause error) *Error {
	return &Error{Kind: kind, ReasonKey: reasonKey, Cause: cause}
}

// WithDetail returns a copy of e with Detail set.
func (e *Error) WithDetail(detail string) *Error {
	cp := *e
	cp.Detail = detail
	return &cp
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Fixed reason keys used across the credential, token, invitation, and
// service-trust layers (not the engine's own closed vocabulary, which
// lives in internal/authz).
const (
	ReasonEmailTaken        = "email_taken"
	ReasonWeakPassword      = "weak_password"
	ReasonBadCredentials    = "bad_credentials"
	ReasonTenantSuspended   = "tenant_suspended"
	ReasonSessionReplay     = "session_replay"
	ReasonExpired           = "expired"
	ReasonMaxAttempts       = "max_attempts"
	ReasonRateLimited       = "rate_limited"
	ReasonUnauthenticated   = "unauthenticated"
	ReasonNoPermission      = "no_permission"
	ReasonNotFound          = "not_found"
	ReasonSignatureExpired  = "signature_expired"
	ReasonReplayedNonce     = "replayed_nonce"
	ReasonPrincipalNotSvc   = "principal_not_service"
	ReasonUnavailable       = "unavailable"
	ReasonInvalidToken      = "invalid_token"
	ReasonInvalidInvitation = "invalid_invitation"
)
