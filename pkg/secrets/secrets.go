// Package secrets seals credentials at rest with AES-256-GCM.
//
// Wire format: base64(IV || ciphertext || tag) with a 12-byte random IV and
// the 16-byte GCM tag appended by Seal. Integrity failure on Open is a hard
// error; a tampered or truncated value never decrypts partially.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

const (
	keyLen   = 32 // AES-256
	nonceLen = 12
)

// ErrIntegrity is returned when a sealed value fails authentication.
var ErrIntegrity = errors.New("secrets: integrity check failed")

// Cipher seals and opens secrets with a fixed key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromEnv reads DATA_ENCRYPTION_KEY (64 hex chars) and builds a
// Cipher. Returns (nil, nil) when the variable is unset; callers that
// persist secrets must treat a nil cipher as a configuration error.
func NewCipherFromEnv() (*Cipher, error) {
	raw := os.Getenv("DATA_ENCRYPTION_KEY")
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: DATA_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return NewCipher(key)
}

// Seal encrypts plaintext and returns base64(IV || ciphertext || tag).
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("secrets: invalid base64: %w", err)
	}
	if len(data) < nonceLen+c.aead.Overhead() {
		return "", ErrIntegrity
	}
	nonce, ciphertext := data[:nonceLen], data[nonceLen:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}
