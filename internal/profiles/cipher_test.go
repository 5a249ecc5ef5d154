package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return []byte("01234567890123456789012345678901")
}

func TestNewAESGCMCipher_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewAESGCMCipher([]byte("tooshort"))
	assert.Error(t, err)
}

func TestAESGCMCipher_EncryptDecryptRoundTrips(t *testing.T) {
	c, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("hello secrets"))
	require.NoError(t, err)
	assert.NotEqual(t, "hello secrets", string(ct))

	pt, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "hello secrets", string(pt))
}

func TestAESGCMCipher_StringRoundTrip(t *testing.T) {
	c, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)

	encoded, err := c.EncryptString("sup3r-secret-password")
	require.NoError(t, err)

	decoded, err := c.DecryptString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "sup3r-secret-password", decoded)
}

func TestAESGCMCipher_DecryptWithWrongKeyFails(t *testing.T) {
	c1, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)
	other := []byte("98765432109876543210987654321098")
	c2, err := NewAESGCMCipher(other)
	require.NoError(t, err)

	ct, err := c1.Encrypt([]byte("data"))
	require.NoError(t, err)

	_, err = c2.Decrypt(ct)
	assert.Error(t, err)
}

func TestAESGCMCipher_DecryptStringRejectsBadBase64(t *testing.T) {
	c, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)
	_, err = c.DecryptString("not-valid-base64!!!")
	assert.Error(t, err)
}

func TestDeriveKey_DeterministicPerPurpose(t *testing.T) {
	c, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)

	k1, err := c.DeriveKey("fingerprint", 16)
	require.NoError(t, err)
	k2, err := c.DeriveKey("fingerprint", 16)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := c.DeriveKey("other-purpose", 16)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKey_RejectsEmptyPurpose(t *testing.T) {
	c, err := NewAESGCMCipher(testKey())
	require.NoError(t, err)
	_, err = c.DeriveKey("", 16)
	assert.Error(t, err)
}
