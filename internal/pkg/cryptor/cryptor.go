// Package cryptor implements symmetric authenticated encryption for
// access/refresh/id tokens at rest, backed by a single key file generated
// on first use.
package cryptor

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken is returned when ciphertext fails authentication — a
// corrupted or tampered token. Callers treat this as permanent: the account
// cannot be used without re-login.
var ErrInvalidToken = errors.New("cryptor: invalid token")

const keySize = chacha20poly1305.KeySize // 32 bytes

// Cryptor exposes Encrypt/Decrypt using a key loaded once from disk and
// cached in memory for the lifetime of the process.
type Cryptor struct {
	mu  sync.RWMutex
	key [keySize]byte
}

// cipherAEAD is the subset of cipher.AEAD we use; kept as an unexported
// interface so the zero-alloc happy path doesn't need the full package name
// sprinkled through this file.
type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New loads (or generates) the key at keyFile and returns a ready Cryptor.
// The key file is written with owner-only permissions (0600) on first use.
func New(keyFile string) (*Cryptor, error) {
	key, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	c := &Cryptor{}
	c.key = key
	return c, nil
}

func loadOrCreateKey(keyFile string) ([keySize]byte, error) {
	var key [keySize]byte

	data, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		if len(data) != keySize {
			return key, fmt.Errorf("cryptor: key file %s has invalid length %d, expected %d", keyFile, len(data), keySize)
		}
		copy(key[:], data)
		return key, nil
	case os.IsNotExist(err):
		if genErr := os.MkdirAll(filepath.Dir(keyFile), 0o700); genErr != nil {
			return key, fmt.Errorf("cryptor: create key dir: %w", genErr)
		}
		if _, genErr := rand.Read(key[:]); genErr != nil {
			return key, fmt.Errorf("cryptor: generate key: %w", genErr)
		}
		if genErr := os.WriteFile(keyFile, key[:], 0o600); genErr != nil {
			return key, fmt.Errorf("cryptor: write key file: %w", genErr)
		}
		return key, nil
	default:
		return key, fmt.Errorf("cryptor: read key file: %w", err)
	}
}

func (c *Cryptor) aeadCipher() (cipherAEAD, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	return chacha20poly1305.New(key[:])
}

// Encrypt authenticates and encrypts plaintext, returning nonce||ciphertext.
func (c *Cryptor) Encrypt(plaintext string) ([]byte, error) {
	aead, err := c.aeadCipher()
	if err != nil {
		return nil, fmt.Errorf("cryptor: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptor: generate nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return out, nil
}

// Decrypt authenticates and decrypts data produced by Encrypt. Any failure —
// truncated input, wrong key, tampered ciphertext — surfaces as
// ErrInvalidToken.
func (c *Cryptor) Decrypt(data []byte) (string, error) {
	aead, err := c.aeadCipher()
	if err != nil {
		return "", fmt.Errorf("cryptor: init cipher: %w", err)
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize+aead.Overhead() {
		return "", ErrInvalidToken
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plaintext), nil
}
