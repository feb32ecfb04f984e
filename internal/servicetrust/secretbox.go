package servicetrust

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SecretBox reversibly encrypts service signing secrets at rest with
// AES-256-GCM. A service secret must be recoverable in plaintext to
// recompute an HMAC-SHA256 signature server-side; unlike a user
// password, a one-way hash cannot serve both Basic-auth comparison and
// signed-envelope verification, so ServiceSecret.SecretHash stores
// ciphertext rather than a bcrypt digest.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox constructs a SecretBox from a 32-byte master key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("servicetrust: master key must be 32 bytes, got %d", len(key))
	}
	var b SecretBox
	copy(b.key[:], key)
	return &b, nil
}

const encPrefix = "enc:"

// Seal encrypts plaintext, returning a self-describing "enc:" prefixed
// base64 ciphertext with a fresh random nonce.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("servicetrust: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal.
func (b *SecretBox) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, encPrefix) {
		return "", fmt.Errorf("servicetrust: missing %q prefix", encPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, encPrefix))
	if err != nil {
		return "", fmt.Errorf("servicetrust: decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("servicetrust: ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("servicetrust: decrypt (tampered or wrong key): %w", err)
	}
	return string(plaintext), nil
}
