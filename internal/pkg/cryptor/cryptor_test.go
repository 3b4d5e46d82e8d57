package cryptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_GeneratesKeyFileOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "nested", "token.key")

	c, err := New(keyFile)
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ciphertext, err := c.Encrypt("super-secret-access-token")
	require.NoError(t, err)
	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "super-secret-access-token", plaintext)
}

func TestNew_ReloadsExistingKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "token.key")

	first, err := New(keyFile)
	require.NoError(t, err)
	ciphertext, err := first.Encrypt("hello")
	require.NoError(t, err)

	second, err := New(keyFile)
	require.NoError(t, err)
	plaintext, err := second.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello", plaintext)
}

func TestDecrypt_TamperedCiphertextIsPermanent(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "token.key"))
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("hello")
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = c.Decrypt(ciphertext)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecrypt_TruncatedInputIsInvalid(t *testing.T) {
	dir := t.TempDir()
	c, err := New(filepath.Join(dir, "token.key"))
	require.NoError(t, err)

	_, err = c.Decrypt([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidToken)
}
