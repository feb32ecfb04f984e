// Package notify defines the OTP delivery seam. Channel providers
// (email, SMS, WhatsApp) are external collaborators; the credential
// manager only decides what to send and hands it to a Sink.
package notify

import (
	"context"
	"log/slog"

	"github.com/veltrix/authzcore/internal/domain"
)

// Sink is the contract the credential manager sends verification codes
// and invitation links through. It never sees the underlying transport.
type Sink interface {
	SendOTP(ctx context.Context, channel domain.OtpChannel, destination, code string, purpose domain.OtpPurpose) error
	SendInvitation(ctx context.Context, destination, inviteURL string) error
}

// DevSink logs deliveries instead of sending them, for local
// development and tests.
type DevSink struct {
	Logger *slog.Logger
}

func (d *DevSink) SendOTP(ctx context.Context, channel domain.OtpChannel, destination, code string, purpose domain.OtpPurpose) error {
	d.Logger.InfoContext(ctx, "otp_dispatched",
		"channel", channel,
		"destination", destination,
		"purpose", purpose,
		"code", code,
	)
	return nil
}

func (d *DevSink) SendInvitation(ctx context.Context, destination, inviteURL string) error {
	d.Logger.InfoContext(ctx, "invitation_dispatched",
		"destination", destination,
		"url", inviteURL,
	)
	return nil
}
