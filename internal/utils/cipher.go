package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/Dan9191/card-service/internal/models"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength     = 32
	kdfIterations = 100_000
)

// ErrInvalidCardNumber is returned when the plaintext is not exactly 16 digits
var ErrInvalidCardNumber = fmt.Errorf("%w: card number must be exactly 16 digits", models.ErrInvalidInput)

// NumberCipher encrypts card numbers with AES-256-GCM. The key is derived
// from a configured secret with PBKDF2-SHA256.
type NumberCipher struct {
	aead cipher.AEAD
}

// NewNumberCipher derives the key from secret and salt
func NewNumberCipher(secret, salt string) (*NumberCipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is empty")
	}
	if salt == "" {
		return nil, errors.New("encryption salt is empty")
	}
	key := pbkdf2.Key([]byte(secret), []byte(salt), kdfIterations, keyLength, sha256.New)
	return newNumberCipher(key)
}

func newNumberCipher(key []byte) (*NumberCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &NumberCipher{aead: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext) of a 16 digit card number
func (c *NumberCipher) Encrypt(plaintext string) (string, error) {
	if len(plaintext) != CardNumberLength || !IsDigits(plaintext) {
		return "", ErrInvalidCardNumber
	}
	if c == nil || c.aead == nil {
		return "", errors.New("cipher is not configured")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *NumberCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", errors.New("encrypted data is empty")
	}
	if c == nil || c.aead == nil {
		return "", errors.New("cipher is not configured")
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
