package credential_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/credential"
	"github.com/veltrix/authzcore/internal/domain"
)

func issueLoginOTP(t *testing.T, mgr *credential.Manager, sink *captureSink, tenantID uuid.UUID, dest string) uuid.UUID {
	t.Helper()
	otpID, err := mgr.IssueOTP(context.Background(), tenantID, dest, domain.ChannelEmail, domain.PurposeLogin)
	require.NoError(t, err)
	require.Len(t, sink.lastCode, domain.DefaultOTPLength)
	return otpID
}

func TestOTP_VerifyAndIdempotentConsumption(t *testing.T) {
	mgr, _, sink, tenantID, _ := newManager(t)
	ctx := context.Background()

	otpID := issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")

	_, err := mgr.VerifyOTPByID(ctx, otpID, sink.lastCode)
	require.NoError(t, err)

	// Consumed codes are terminal: the same correct code fails.
	_, err = mgr.VerifyOTPByID(ctx, otpID, sink.lastCode)
	assert.ErrorIs(t, err, credential.ErrOTPInvalidCode)
}

func TestOTP_WrongCodeThenRightCode(t *testing.T) {
	mgr, _, sink, tenantID, _ := newManager(t)
	ctx := context.Background()

	otpID := issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")

	_, err := mgr.VerifyOTPByID(ctx, otpID, "000000")
	assert.ErrorIs(t, err, credential.ErrOTPInvalidCode)

	_, err = mgr.VerifyOTPByID(ctx, otpID, sink.lastCode)
	assert.NoError(t, err)
}

func TestOTP_MaxAttempts(t *testing.T) {
	mgr, _, sink, tenantID, _ := newManager(t)
	ctx := context.Background()

	otpID := issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")

	// Four wrong guesses burn attempts 1-4.
	for i := 0; i < domain.DefaultOTPMaxAttempts-1; i++ {
		_, err := mgr.VerifyOTPByID(ctx, otpID, "000000")
		assert.ErrorIs(t, err, credential.ErrOTPInvalidCode)
	}

	// The 5th attempt is the last one granted and exhausts the budget.
	_, err := mgr.VerifyOTPByID(ctx, otpID, "000000")
	assert.ErrorIs(t, err, credential.ErrOTPMaxAttempts)

	// The 6th fails too, even with the correct code.
	_, err = mgr.VerifyOTPByID(ctx, otpID, sink.lastCode)
	assert.ErrorIs(t, err, credential.ErrOTPMaxAttempts)
}

func TestOTP_Expiry(t *testing.T) {
	mgr, _, sink, tenantID, clock := newManager(t)
	ctx := context.Background()

	otpID := issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")

	*clock = clock.Add(domain.DefaultOTPTTL + time.Minute)

	_, err := mgr.VerifyOTPByID(ctx, otpID, sink.lastCode)
	assert.ErrorIs(t, err, credential.ErrOTPExpired)
}

func TestOTP_IssuanceRateLimit(t *testing.T) {
	mgr, _, sink, tenantID, clock := newManager(t)

	for i := 0; i < domain.OTPIssueRateLimit; i++ {
		issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")
	}

	_, err := mgr.IssueOTP(context.Background(), tenantID, "ada@example.com", domain.ChannelEmail, domain.PurposeLogin)
	assert.ErrorIs(t, err, credential.ErrOTPRateLimited)

	// A different destination is unaffected.
	issueLoginOTP(t, mgr, sink, tenantID, "grace@example.com")

	// And the window eventually slides past.
	*clock = clock.Add(domain.OTPIssueRateWindow + domain.DefaultOTPTTL + time.Minute)
	issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")
}

func TestOTP_CompleteLoginMintsPair(t *testing.T) {
	mgr, _, sink, tenantID, _ := newManager(t)
	ctx := context.Background()
	ip := net.ParseIP("10.0.0.1")

	_, _, err := mgr.Register(ctx, tenantID, "ada@example.com", "correct horse battery", "Ada", ip, "go-test")
	require.NoError(t, err)

	otpID := issueLoginOTP(t, mgr, sink, tenantID, "ada@example.com")

	pair, err := mgr.CompleteOTP(ctx, otpID, sink.lastCode, ip, "go-test")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestOTP_CompleteVerifyEmailSetsFlag(t *testing.T) {
	mgr, store, sink, tenantID, _ := newManager(t)
	ctx := context.Background()
	ip := net.ParseIP("10.0.0.1")

	user, _, err := mgr.Register(ctx, tenantID, "ada@example.com", "correct horse battery", "Ada", ip, "go-test")
	require.NoError(t, err)
	require.Nil(t, store.users[user.ID].EmailVerifiedUTC)

	otpID, err := mgr.IssueOTP(ctx, tenantID, "ada@example.com", domain.ChannelEmail, domain.PurposeVerifyEmail)
	require.NoError(t, err)

	pair, err := mgr.CompleteOTP(ctx, otpID, sink.lastCode, ip, "go-test")
	require.NoError(t, err)
	assert.Nil(t, pair, "verification purposes do not mint sessions")
	assert.NotNil(t, store.users[user.ID].EmailVerifiedUTC)
}
