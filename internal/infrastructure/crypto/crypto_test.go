package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey   = "01234567890123456789012345678901" // 32 bytes
	testToken = "access-sandbox-de3ce8ef"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid key", key: testKey},
		{name: "short key", key: "too-short", wantErr: ErrInvalidKey},
		{name: "empty key", key: "", wantErr: ErrInvalidKey},
		{name: "long key", key: testKey + "x", wantErr: ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	enc := newTestEncryptor(t)

	for _, plaintext := range []string{testToken, "Café ☕ R$ 1.500,00", strings.Repeat("long token ", 1000)} {
		ciphertext, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptDecrypt_EmptyString(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	enc := newTestEncryptor(t)

	c1, err := enc.Encrypt(testToken)
	require.NoError(t, err)
	c2, err := enc.Encrypt(testToken)
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestDecrypt_Rejects(t *testing.T) {
	enc := newTestEncryptor(t)
	other, err := NewEncryptor("98765432109876543210987654321098")
	require.NoError(t, err)

	sealed, err := enc.Encrypt(testToken)
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-2] + "XX"
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "YY"
	}

	tests := []struct {
		name       string
		decryptor  *Encryptor
		ciphertext string
	}{
		{name: "tampered", decryptor: enc, ciphertext: tampered},
		{name: "invalid base64", decryptor: enc, ciphertext: "not-valid-base64!!!"},
		{name: "shorter than nonce", decryptor: enc, ciphertext: "YQ=="},
		{name: "wrong key", decryptor: other, ciphertext: sealed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.decryptor.Decrypt(tt.ciphertext)
			assert.Error(t, err)
		})
	}
}
