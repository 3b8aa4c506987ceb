// Package security provides the AES-GCM cipher that protects key store
// metadata at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvMasterKey names the environment variable holding the hex-encoded
// master key. It takes precedence over the key file.
const EnvMasterKey = "LOGHARBOR_MASTER_KEY"

// Cipher seals and opens byte blobs with a 32-byte master key.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a cipher around a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{gcm: gcm}, nil
}

// LoadCipher resolves the master key: the environment variable first,
// then the key file, else a fresh key is generated and written to keyPath
// with mode 0600. The second result reports whether a key was generated.
// A malformed explicit key is an error rather than a silent fallthrough,
// since generating a replacement would orphan everything encrypted under
// the intended key.
func LoadCipher(keyPath string) (*Cipher, bool, error) {
	if envKey := os.Getenv(EnvMasterKey); envKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(envKey))
		if err != nil || len(key) != 32 {
			return nil, false, fmt.Errorf("%s must hold 64 hex characters", EnvMasterKey)
		}
		c, err := NewCipher(key)
		return c, false, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != 32 {
			return nil, false, fmt.Errorf("key file %s does not hold 64 hex characters", keyPath)
		}
		c, err := NewCipher(key)
		return c, false, err
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("generating master key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("saving master key to %s: %w", keyPath, err)
	}
	c, err := NewCipher(key)
	return c, true, err
}

// Encrypt seals plaintext and returns nonce + ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce + ciphertext blob produced by Encrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return c.gcm.Open(nil, nonce, ciphertext, nil)
}
