package domain

import (
	"time"

	"github.com/google/uuid"
)

// OtpChannel enumerates the delivery transports an OtpCode may be sent
// over. Delivery itself is external: the credential manager only
// decides what to send and hands it to a notify.Sink.
type OtpChannel string

const (
	ChannelEmail    OtpChannel = "email"
	ChannelSMS      OtpChannel = "sms"
	ChannelWhatsApp OtpChannel = "whatsapp"
)

// OtpPurpose enumerates why a code was issued.
type OtpPurpose string

const (
	PurposeLogin       OtpPurpose = "login"
	PurposeVerifyEmail OtpPurpose = "verify_email"
	PurposeVerifyPhone OtpPurpose = "verify_phone"
)

const (
	DefaultOTPLength      = 6
	DefaultOTPTTL         = 5 * time.Minute
	DefaultOTPMaxAttempts = 5
	OTPIssueRateLimit     = 3
	OTPIssueRateWindow    = 15 * time.Minute
)

// OtpCode is a single-use verification code. CodeHash is a salted hash;
// the raw code is never stored.
type OtpCode struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Destination  string
	Channel      OtpChannel
	Purpose      OtpPurpose
	CodeHash     string
	ExpiryUTC    time.Time
	ConsumedUTC  *time.Time
	AttemptCount int
	AttemptMax   int
}

// IsConsumed reports terminal state.
func (o *OtpCode) IsConsumed() bool {
	return o.ConsumedUTC != nil
}

// IsExpired reports whether the code can no longer be verified.
func (o *OtpCode) IsExpired(now time.Time) bool {
	return now.After(o.ExpiryUTC)
}

// AttemptsExhausted reports whether the max verification attempts have
// been used up.
func (o *OtpCode) AttemptsExhausted() bool {
	return o.AttemptCount >= o.AttemptMax
}
