package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *EncryptionService {
	t.Helper()
	svc, err := NewEncryptionService(bytes.Repeat([]byte{0x11}, 32), bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)
	return svc
}

func TestNewEncryptionServiceKeyLengths(t *testing.T) {
	_, err := NewEncryptionService(make([]byte, 16), make([]byte, 32))
	assert.Error(t, err)
	_, err = NewEncryptionService(make([]byte, 32), make([]byte, 31))
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t)
	for _, plain := range []string{"a", "I almost cancelled again but didn't", "日本語もOK", ""} {
		enc, err := svc.Encrypt(plain)
		require.NoError(t, err)
		if plain != "" {
			assert.NotEqual(t, plain, enc)
		}
		dec, err := svc.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	svc := newTestService(t)
	a, err := svc.Encrypt("same input")
	require.NoError(t, err)
	b, err := svc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "a fresh nonce must be used every time")
}

func TestDecryptRejectsTampering(t *testing.T) {
	svc := newTestService(t)
	enc, err := svc.Encrypt("sensitive")
	require.NoError(t, err)

	_, err = svc.Decrypt("not base64 at all!!!")
	assert.Error(t, err)
	_, err = svc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)

	corrupted := []byte(enc)
	corrupted[len(corrupted)-5] ^= 1
	_, err = svc.Decrypt(string(corrupted))
	assert.Error(t, err)
}

func TestBlindIndexNormalizes(t *testing.T) {
	svc := newTestService(t)
	a := svc.GenerateBlindIndex("Ana@Example.com ")
	b := svc.GenerateBlindIndex("ana@example.com")
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, svc.GenerateBlindIndex("ben@example.com"))
	assert.Empty(t, svc.GenerateBlindIndex("  "))
}
