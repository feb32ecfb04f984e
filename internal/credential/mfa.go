package credential

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"image/png"
	"math/big"

	"github.com/pquerna/otp/totp"
)

// TOTPEnroller generates and validates authenticator-app TOTP
// secrets, an optional enrollment path next to the destination-delivered
// OTP codes for users who prefer an authenticator app.
type TOTPEnroller struct {
	issuer string
}

func NewTOTPEnroller(issuer string) *TOTPEnroller {
	return &TOTPEnroller{issuer: issuer}
}

// GenerateSecret creates a new TOTP secret for accountName and renders
// its QR code as PNG bytes for display during enrollment.
func (e *TOTPEnroller) GenerateSecret(accountName string) (secret string, qrPNG []byte, err error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: e.issuer, AccountName: accountName})
	if err != nil {
		return "", nil, fmt.Errorf("credential: generate totp key: %w", err)
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return "", nil, fmt.Errorf("credential: render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", nil, fmt.Errorf("credential: encode qr png: %w", err)
	}

	return key.Secret(), buf.Bytes(), nil
}

// ValidateCode checks a presented TOTP code against secret, allowing
// the library's default clock-skew window.
func (e *TOTPEnroller) ValidateCode(code, secret string) bool {
	return totp.Validate(code, secret)
}

// BackupCodes generates cryptographically random recovery codes in
// XXXX-XXXX form (excluding visually ambiguous characters), for use
// when the authenticator device is unavailable. Callers hash each code
// before storage, same as any other credential.
func BackupCodes(count int) ([]string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)
	for i := range codes {
		buf := make([]byte, 8)
		for j := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
			if err != nil {
				return nil, fmt.Errorf("credential: generate backup code: %w", err)
			}
			buf[j] = chars[n.Int64()]
		}
		codes[i] = string(buf[:4]) + "-" + string(buf[4:])
	}
	return codes, nil
}
