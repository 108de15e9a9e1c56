package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(rune(b)), 32)))
}

func TestNewTokenCipher(t *testing.T) {
	_, err := NewTokenCipher("", "")
	assert.Error(t, err)
	_, err = NewTokenCipher("not base64!", "")
	assert.Error(t, err)
	_, err = NewTokenCipher(base64.StdEncoding.EncodeToString([]byte("short")), "")
	assert.ErrorContains(t, err, "32 bytes")

	c, err := NewTokenCipher(testKey('a'), "")
	require.NoError(t, err)
	assert.Equal(t, "default", c.KeyID())
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewTokenCipher(testKey('a'), "k1")
	require.NoError(t, err)

	for _, plain := range []string{"oauth:abc123", "unicode ✓ token", strings.Repeat("x", 4096)} {
		sealed, err := c.Seal(plain)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "k1:"))
		assert.NotContains(t, sealed, plain)

		got, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}

	sealed, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
	got, err := c.Open("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSealIsRandomized(t *testing.T) {
	c, _ := NewTokenCipher(testKey('a'), "")
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperingAndOtherKeys(t *testing.T) {
	c, _ := NewTokenCipher(testKey('a'), "k1")
	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "k1:"))
	raw[len(raw)-1] ^= 0xff
	_, err = c.Open("k1:" + base64.StdEncoding.EncodeToString(raw))
	assert.ErrorContains(t, err, "integrity")

	other, _ := NewTokenCipher(testKey('b'), "k1")
	_, err = other.Open(sealed)
	assert.Error(t, err)

	rotated, _ := NewTokenCipher(testKey('a'), "k2")
	_, err = rotated.Open(sealed)
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = c.Open("no-key-id")
	assert.Error(t, err)
	_, err = c.Open("k1:AAAA")
	assert.Error(t, err)
}
