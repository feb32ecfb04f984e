package credential_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/credential"
)

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	hasher := credential.NewArgon2Hasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "argon2id$"))
	assert.NotContains(t, hash, "correct horse")

	assert.NoError(t, hasher.Compare(hash, "correct horse battery staple"))
	assert.ErrorIs(t, hasher.Compare(hash, "wrong password"), credential.ErrBadCredentials)
}

func TestArgon2Hasher_SaltedPerHash(t *testing.T) {
	hasher := credential.NewArgon2Hasher()

	h1, err := hasher.Hash("same password")
	require.NoError(t, err)
	h2, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "per-credential salt must differ")
	assert.NoError(t, hasher.Compare(h1, "same password"))
	assert.NoError(t, hasher.Compare(h2, "same password"))
}

func TestArgon2Hasher_MalformedHash(t *testing.T) {
	hasher := credential.NewArgon2Hasher()

	for _, bad := range []string{
		"",
		"plaintext",
		"bcrypt$something",
		"argon2id$v=19$m=65536,t=3,p=2$not-base64!$AAAA",
	} {
		assert.ErrorIs(t, hasher.Compare(bad, "password"), credential.ErrMalformedHash, bad)
	}
}
