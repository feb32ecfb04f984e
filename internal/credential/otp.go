package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"

	"github.com/google/uuid"

	"github.com/veltrix/authzcore/internal/apperr"
	"github.com/veltrix/authzcore/internal/audit"
	"github.com/veltrix/authzcore/internal/domain"
	"github.com/veltrix/authzcore/internal/storage"
)

var (
	ErrOTPExpired     = errors.New("credential: otp expired")
	ErrOTPMaxAttempts = errors.New("credential: otp attempts exhausted")
	ErrOTPRateLimited = errors.New("credential: otp issuance rate limited")
	ErrOTPInvalidCode = errors.New("credential: otp code mismatch")
)

// hashOTP salts the numeric code with its tenant+destination+purpose so
// the same 6-digit code never collides across unrelated requests; only
// the hash is ever stored.
func hashOTP(tenantID uuid.UUID, destination string, purpose domain.OtpPurpose, code string) string {
	sum := sha256.Sum256([]byte(tenantID.String() + "|" + destination + "|" + string(purpose) + "|" + code))
	return hex.EncodeToString(sum[:])
}

func generateNumericCode(length int) (string, error) {
	digits := make([]byte, length)
	max := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("credential: generate otp digit: %w", err)
		}
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits), nil
}

// IssueOTP generates, hashes, and stores a single-use numeric code,
// then dispatches it through the configured notify sink. Issuance is
// rate-limited to OTPIssueRateLimit per destination within
// OTPIssueRateWindow.
func (m *Manager) IssueOTP(ctx context.Context, tenantID uuid.UUID, destination string, channel domain.OtpChannel, purpose domain.OtpPurpose) (uuid.UUID, error) {
	now := m.now()
	count, err := m.Queries.CountRecentOTPIssuances(ctx, tenantID, destination, now.Add(-domain.OTPIssueRateWindow))
	if err != nil {
		return uuid.Nil, err
	}
	if count >= domain.OTPIssueRateLimit {
		return uuid.Nil, ErrOTPRateLimited
	}

	code, err := generateNumericCode(domain.DefaultOTPLength)
	if err != nil {
		return uuid.Nil, err
	}

	otpCode := &domain.OtpCode{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Destination: destination,
		Channel:     channel,
		Purpose:     purpose,
		CodeHash:    hashOTP(tenantID, destination, purpose, code),
		ExpiryUTC:   now.Add(domain.DefaultOTPTTL),
		AttemptMax:  domain.DefaultOTPMaxAttempts,
	}
	if err := m.Queries.CreateOTP(ctx, otpCode); err != nil {
		return uuid.Nil, err
	}

	if err := m.Notify.SendOTP(ctx, channel, destination, code, purpose); err != nil {
		return uuid.Nil, fmt.Errorf("credential: dispatch otp: %w", err)
	}

	m.Audit.Log(ctx, domain.ActionOTPIssue, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
		EntityKind: "otp_code",
		EntityID:   otpCode.ID,
		Payload:    map[string]any{"channel": channel, "purpose": purpose},
	})

	return otpCode.ID, nil
}

// VerifyOTP checks a presented code against the latest issued code for
// (tenant, destination, purpose). Verification is idempotent once
// consumed: a second call with the correct code still fails, since the
// code is already terminal. CompleteOTP layers the purpose-specific
// success step on top.
func (m *Manager) VerifyOTP(ctx context.Context, tenantID uuid.UUID, destination string, purpose domain.OtpPurpose, code string) error {
	otpCode, err := m.Queries.GetLatestOTP(ctx, tenantID, destination, purpose)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrOTPInvalidCode
		}
		return err
	}
	return m.verifyLoaded(ctx, otpCode, code)
}

// VerifyOTPByID is the wire-facing variant keyed by the otp_id returned
// from issuance. It returns the verified code so callers can run the
// purpose-specific success step.
func (m *Manager) VerifyOTPByID(ctx context.Context, otpID uuid.UUID, code string) (*domain.OtpCode, error) {
	otpCode, err := m.Queries.GetOTPByID(ctx, otpID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOTPInvalidCode
		}
		return nil, err
	}
	if err := m.verifyLoaded(ctx, otpCode, code); err != nil {
		return nil, err
	}
	return otpCode, nil
}

func (m *Manager) verifyLoaded(ctx context.Context, otpCode *domain.OtpCode, code string) error {
	now := m.now()
	if otpCode.IsConsumed() {
		return ErrOTPInvalidCode
	}
	if otpCode.IsExpired(now) {
		return ErrOTPExpired
	}
	if otpCode.AttemptsExhausted() {
		return ErrOTPMaxAttempts
	}

	if err := m.Queries.IncrementOTPAttempt(ctx, otpCode.ID); err != nil {
		return err
	}
	otpCode.AttemptCount++

	want := hashOTP(otpCode.TenantID, otpCode.Destination, otpCode.Purpose, code)
	if !secureEqual(want, otpCode.CodeHash) {
		if otpCode.AttemptsExhausted() {
			return ErrOTPMaxAttempts
		}
		return ErrOTPInvalidCode
	}

	if err := m.Queries.ConsumeOTP(ctx, otpCode.ID, now); err != nil {
		return err
	}

	m.Audit.Log(ctx, domain.ActionOTPVerify, audit.Fields{
		TenantID:   uuid.NullUUID{UUID: otpCode.TenantID, Valid: true},
		EntityKind: "otp_code",
		EntityID:   otpCode.ID,
		Payload:    map[string]any{"purpose": otpCode.Purpose},
	})

	return nil
}

// CompleteOTP verifies a code by otp_id and then runs the
// purpose-specific success step: for login a fresh session pair is
// minted for the user the destination resolves to, for
// verify_email/verify_phone the matching verified flag is stamped on
// the user. The returned pair is nil for non-login purposes.
func (m *Manager) CompleteOTP(ctx context.Context, otpID uuid.UUID, code string, ip net.IP, userAgent string) (*TokenPair, error) {
	otpCode, err := m.VerifyOTPByID(ctx, otpID, code)
	if err != nil {
		return nil, err
	}
	tenantID, purpose := otpCode.TenantID, otpCode.Purpose

	user, err := m.Queries.GetUserByEmail(ctx, tenantID, otpCode.Destination)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	now := m.now()
	switch purpose {
	case domain.PurposeLogin:
		if !user.IsActive() {
			return nil, ErrBadCredentials
		}
		pair, err := m.issueSessionFor(ctx, user, ip, userAgent)
		if err != nil {
			return nil, err
		}
		m.Audit.Log(ctx, domain.ActionLoginSuccess, audit.Fields{
			TenantID:   uuid.NullUUID{UUID: tenantID, Valid: true},
			ActorUser:  uuid.NullUUID{UUID: user.ID, Valid: true},
			EntityKind: "user",
			EntityID:   user.ID,
			Payload:    map[string]any{"method": "otp"},
		})
		return pair, nil
	case domain.PurposeVerifyEmail:
		return nil, m.Queries.MarkUserEmailVerified(ctx, tenantID, user.ID, now)
	case domain.PurposeVerifyPhone:
		return nil, m.Queries.MarkUserPhoneVerified(ctx, tenantID, user.ID, now)
	default:
		return nil, nil
	}
}

// ReasonForOTPError maps an OTP error to its taxonomy reason key,
// used by the HTTP boundary.
func ReasonForOTPError(err error) string {
	switch {
	case errors.Is(err, ErrOTPExpired):
		return apperr.ReasonExpired
	case errors.Is(err, ErrOTPMaxAttempts):
		return apperr.ReasonMaxAttempts
	case errors.Is(err, ErrOTPRateLimited):
		return apperr.ReasonRateLimited
	default:
		return apperr.ReasonBadCredentials
	}
}
