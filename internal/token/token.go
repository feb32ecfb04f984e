// Package token implements access-token minting and validation:
// RS256 with a loaded keypair. Tenant-state checking at validation
// time is composed on top by the credential manager.
package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("token: invalid token")
	ErrExpiredToken = errors.New("token: expired")
)

const DefaultAccessTokenTTL = 15 * time.Minute

// Claims is the JWT payload: sub, tenant_id, email, iat, exp, plus
// the registered claims jwt/v5 needs for parsing.
type Claims struct {
	UserID   uuid.UUID `json:"sub"`
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Service mints and validates RS256 access tokens. Refresh tokens are
// opaque random values owned by internal/credential, not JWTs; only
// the short-lived access token is signed.
type Service struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	ttl        time.Duration
	issuer     string
	kid        string
}

// NewService loads an RSA keypair from PEM-encoded bytes (PKCS1 or
// PKCS8) and constructs a Service with the given access-token lifetime.
func NewService(privateKeyPEM []byte, ttl time.Duration, issuer string) (*Service, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("token: failed to decode PEM block")
	}

	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("token: parse private key: pkcs1=%v pkcs8=%v", err, err2)
		}
		var ok bool
		priv, ok = key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("token: key is not an RSA private key")
		}
	}

	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return &Service{
		privateKey: priv,
		publicKey:  &priv.PublicKey,
		ttl:        ttl,
		issuer:     issuer,
		kid:        "sig-1",
	}, nil
}

// IssueAccessToken signs a new access token for the given subject.
// email may be empty (it is optional in the claim shape).
func (s *Service) IssueAccessToken(userID, tenantID uuid.UUID, email string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    s.issuer,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.privateKey)
}

// ValidateToken parses and verifies an access token's signature and
// expiry. Tenant-state suspension is checked by the caller, since the
// token service itself has no storage access; see
// credential.Manager.ValidateAccess for the composed check.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWK is one entry of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKS is the exported public keyset, for interop with OIDC-style
// `.well-known` consumers.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// GetJWKS exports the service's public key in JWK form.
func (s *Service) GetJWKS() JWKS {
	eBuf := big.NewInt(int64(s.publicKey.E)).Bytes()
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Kid: s.kid,
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(s.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(eBuf),
		Alg: "RS256",
	}}}
}
