package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("zzzz", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw") // too short
	assert.Error(t, err)
}

func TestLoadAttestorKeyPrecedence(t *testing.T) {
	// Raw key wins even when a file is configured.
	got, err := LoadAttestorKey(KeyConfig{
		RawPrivateKey:    "0x" + testKeyHex,
		EncryptedKeyPath: "/nonexistent",
	})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Encrypted file path.
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "attestor.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadAttestorKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Nothing configured.
	_, err = LoadAttestorKey(KeyConfig{})
	assert.Error(t, err)
}

func TestDeriveSealingKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1 := DeriveSealingKey("pw", salt)
	k2 := DeriveSealingKey("pw", salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, SealingKeyLen)

	assert.NotEqual(t, k1, DeriveSealingKey("other", salt))
	assert.NotEqual(t, k1, DeriveSealingKey("pw", []byte("fedcba9876543210")))
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{KeyID: "key-1", Secret: "s3cret"}

	h1 := auth.HeadersAt("POST", "/v1/import", `{"kind":"euint32"}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/v1/import", `{"kind":"euint32"}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "key-1", h1["X-Veil-Key"])
	assert.Equal(t, "1700000000", h1["X-Veil-Timestamp"])
	assert.NotEmpty(t, h1["X-Veil-Signature"])

	// Any input change moves the signature.
	h3 := auth.HeadersAt("POST", "/v1/import", `{"kind":"ebool"}`, 1700000000)
	assert.NotEqual(t, h1["X-Veil-Signature"], h3["X-Veil-Signature"])

	// Redacted logging form.
	assert.NotContains(t, auth.String(), "s3cret")
}
