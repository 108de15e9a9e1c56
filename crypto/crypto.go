// Package crypto seals OAuth tokens before they are written to the
// database. It uses AES-256-GCM; sealed values are base64 text tagged with
// the key id so rotated keys can still be recognized.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrKeyMismatch is returned when a sealed value was produced under another key id.
var ErrKeyMismatch = errors.New("sealed with a different key")

// Cipher seals and opens strings.
type Cipher interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
	KeyID() string
}

// TokenCipher implements Cipher with AES-256-GCM.
type TokenCipher struct {
	keyID string
	aead  cipher.AEAD
}

// NewTokenCipher builds a cipher from a base64 encoded 32 byte key, e.g. the
// output of `openssl rand -base64 32`. keyID defaults to "default".
func NewTokenCipher(base64Key, keyID string) (*TokenCipher, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if keyID == "" {
		keyID = "default"
	}
	return &TokenCipher{keyID: keyID, aead: aead}, nil
}

func (c *TokenCipher) KeyID() string { return c.keyID }

// Seal encrypts plaintext into "<keyID>:<base64(nonce||ciphertext||tag)>".
// The empty string seals to itself.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(c.keyID))
	return c.keyID + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (c *TokenCipher) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	id, payload, ok := strings.Cut(sealed, ":")
	if !ok {
		return "", errors.New("sealed value has no key id")
	}
	if id != c.keyID {
		return "", fmt.Errorf("%w: %q", ErrKeyMismatch, id)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("sealed value too short: %d bytes", len(raw))
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], []byte(c.keyID))
	if err != nil {
		return "", errors.New("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}
