package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/servicetrust"
)

// ServiceVerifier is the seam into internal/servicetrust the
// service-auth middleware needs.
type ServiceVerifier interface {
	VerifySignedEnvelope(ctx context.Context, req servicetrust.EnvelopeRequest) (*domain.Service, error)
	VerifyBasicAuth(ctx context.Context, serviceKey, secret string) (*domain.Service, error)
	VerifyToken(ctx context.Context, rawToken string) (*domain.Service, error)
}

// maxEnvelopeBody bounds how much request body the middleware buffers
// for signature verification.
const maxEnvelopeBody = 1 << 20

// ServiceAuth authenticates a service principal via any of the three
// trust modes: signed envelope (X-Signature et al.), HTTP Basic
// (service_key:service_secret), or a bearer service token from
// POST /svc/token. A user JWT presented to a service-only endpoint is
// rejected with principal_not_service; a JWT is recognizable by its
// dot-separated segments, which an opaque service token never
// contains.
func ServiceAuth(verifier ServiceVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, reasonKey, err := authenticateService(verifier, r)
			if err != nil {
				slog.Warn("service auth failed", "error", err, "ip", r.RemoteAddr, "path", r.URL.Path)
				status := http.StatusUnauthorized
				if reasonKey == apperr.ReasonPrincipalNotSvc {
					status = http.StatusForbidden
				}
				respondReason(w, status, reasonKey)
				return
			}

			ctx := context.WithValue(r.Context(), ServiceIDKey, svc.ID)
			if svc.TenantID.Valid {
				ctx = context.WithValue(ctx, TenantIDKey, svc.TenantID.UUID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateService(verifier ServiceVerifier, r *http.Request) (*domain.Service, string, error) {
	if r.Header.Get("X-Signature") != "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBody))
		if err != nil {
			return nil, apperr.ReasonUnauthenticated, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		svc, err := verifier.VerifySignedEnvelope(r.Context(), servicetrust.EnvelopeRequest{
			ClientID:  r.Header.Get("X-Client-ID"),
			Method:    r.Method,
			Path:      r.URL.Path,
			Timestamp: r.Header.Get("X-Timestamp"),
			Nonce:     r.Header.Get("X-Nonce"),
			Body:      body,
			Signature: r.Header.Get("X-Signature"),
		})
		if err != nil {
			return nil, envelopeReason(err), err
		}
		return svc, "", nil
	}

	if key, secret, ok := r.BasicAuth(); ok {
		svc, err := verifier.VerifyBasicAuth(r.Context(), key, secret)
		if err != nil {
			return nil, apperr.ReasonUnauthenticated, err
		}
		return svc, "", nil
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		if strings.Contains(token, ".") {
			return nil, apperr.ReasonPrincipalNotSvc, apperr.New(apperr.KindForbidden, apperr.ReasonPrincipalNotSvc)
		}
		svc, err := verifier.VerifyToken(r.Context(), token)
		if err != nil {
			return nil, apperr.ReasonUnauthenticated, err
		}
		return svc, "", nil
	}

	return nil, apperr.ReasonUnauthenticated, apperr.New(apperr.KindUnauthenticated, apperr.ReasonUnauthenticated)
}

func envelopeReason(err error) string {
	switch err {
	case servicetrust.ErrSignatureExpired:
		return apperr.ReasonSignatureExpired
	case servicetrust.ErrReplayedNonce:
		return apperr.ReasonReplayedNonce
	default:
		return apperr.ReasonUnauthenticated
	}
}

// respondReason writes the {reason_key} error body without pulling the
// helpers package into every middleware.
func respondReason(w http.ResponseWriter, status int, reasonKey string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"reason_key":"` + reasonKey + `"}`))
}
