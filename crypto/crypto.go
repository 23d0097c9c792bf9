// Package crypto seals credential blobs at rest with AES-256-GCM. Sealed
// blobs carry a one-byte format version so the key or algorithm can be
// rotated without guessing at stored data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// sealV1 prefixes blobs sealed with AES-256-GCM: version || nonce || ciphertext || tag.
const sealV1 byte = 1

// ErrOpen is returned when a blob fails authentication or is malformed.
var ErrOpen = errors.New("sealed blob failed integrity check")

// Sealer encrypts and authenticates opaque blobs.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// AESSealer implements Sealer with a 32-byte key.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// GenerateKey returns a fresh base64-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext under a random nonce.
func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	out := make([]byte, 1+s.aead.NonceSize(), 1+s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	out[0] = sealV1
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, plaintext, []byte{sealV1}), nil
}

// Open verifies and decrypts a blob produced by Seal.
func (s *AESSealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < 1+n+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrOpen, len(sealed))
	}
	if sealed[0] != sealV1 {
		return nil, fmt.Errorf("%w: unknown format version %d", ErrOpen, sealed[0])
	}
	nonce := sealed[1 : 1+n]
	plaintext, err := s.aead.Open(nil, nonce, sealed[1+n:], sealed[:1])
	if err != nil {
		// the GCM error says nothing useful and may leak timing detail
		return nil, ErrOpen
	}
	return plaintext, nil
}

// SealString seals plaintext and returns it base64-encoded for text columns.
func SealString(s Sealer, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	b, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// OpenString reverses SealString.
func OpenString(s Sealer, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := s.Open(b)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
