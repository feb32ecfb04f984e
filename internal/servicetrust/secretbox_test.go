package servicetrust_test

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/authzcore/internal/servicetrust"
)

func testBox(t *testing.T) *servicetrust.SecretBox {
	t.Helper()
	key := sha256.Sum256([]byte("secretbox test key"))
	box, err := servicetrust.NewSecretBox(key[:])
	require.NoError(t, err)
	return box
}

func TestSecretBox_RoundTrip(t *testing.T) {
	box := testBox(t)

	sealed, err := box.Seal("super secret signing key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "enc:"))
	assert.NotContains(t, sealed, "super secret")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "super secret signing key", plain)
}

func TestSecretBox_FreshNoncePerSeal(t *testing.T) {
	box := testBox(t)

	a, err := box.Seal("same plaintext")
	require.NoError(t, err)
	b, err := box.Seal("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretBox_TamperDetected(t *testing.T) {
	box := testBox(t)

	sealed, err := box.Seal("payload")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "BB"
	}
	_, err = box.Open(tampered)
	assert.Error(t, err)
}

func TestSecretBox_WrongKey(t *testing.T) {
	box := testBox(t)
	sealed, err := box.Seal("payload")
	require.NoError(t, err)

	otherKey := sha256.Sum256([]byte("a different key"))
	other, err := servicetrust.NewSecretBox(otherKey[:])
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestNewSecretBox_RequiresThirtyTwoBytes(t *testing.T) {
	_, err := servicetrust.NewSecretBox([]byte("short"))
	assert.Error(t, err)
}

func TestSecretBox_RejectsUnprefixed(t *testing.T) {
	box := testBox(t)
	_, err := box.Open("bm90LWVuY3J5cHRlZA==")
	assert.Error(t, err)
}
