package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordHasher is the contract for password hashing and
// verification, kept as an interface so the hasher remains swappable.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Argon2Hasher hashes passwords with argon2id, tuned so a single
// verification costs roughly 50ms on reference hardware.
type Argon2Hasher struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
	keyLen  uint32
	saltLen uint32
}

func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		time:    3,
		memory:  64 * 1024,
		threads: 2,
		keyLen:  32,
		saltLen: 16,
	}
}

var ErrMalformedHash = errors.New("credential: malformed password hash")

// Hash returns an encoded argon2id hash in the form
// argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>, self-describing
// so parameters can change without breaking existing hashes.
func (a *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, a.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, a.time, a.memory, a.threads, a.keyLen)
	encoded := fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.memory, a.time, a.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

// Compare verifies password against an encoded hash produced by Hash, in
// constant time over the derived key comparison.
func (a *Argon2Hasher) Compare(encodedHash, password string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return ErrMalformedHash
	}
	var mem uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return ErrMalformedHash
	}
	wantKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrMalformedHash
	}
	gotKey := argon2.IDKey([]byte(password), salt, t, mem, p, uint32(len(wantKey)))
	if subtle.ConstantTimeCompare(gotKey, wantKey) != 1 {
		return ErrBadCredentials
	}
	return nil
}
