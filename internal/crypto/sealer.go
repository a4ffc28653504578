/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package crypto seals sensitive provider credential fields at rest using
// AES-256-GCM. Sealed values carry a versioned ciphertext prefix so that
// plain values written before encryption was enabled pass through Decrypt
// unchanged.
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

// ciphertextPrefix marks a sealed value. The version suffix allows a future
// algorithm change without re-encrypting existing rows first.
const ciphertextPrefix = "cfv1:"

// keySize is the AES-256 key size in bytes.
const keySize = 32

// Sentinel errors for sealing operations.
var (
	// ErrInvalidKey indicates the configured key is not 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrDecryptionFailed indicates the ciphertext could not be opened.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Sealer encrypts and decrypts credential strings.
type Sealer interface {
	// Encrypt seals a plaintext value. Already-sealed values are returned as is.
	Encrypt(plaintext string) (string, error)
	// Decrypt opens a sealed value. Plain values pass through unchanged.
	Decrypt(value string) (string, error)
	// IsEncrypted reports whether the value carries the ciphertext prefix.
	IsEncrypted(value string) bool
}

// AESGCMSealer is a Sealer backed by a single process-wide AES-256 key.
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer creates a Sealer from a raw 32-byte key.
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("AES cipher creation failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// NewAESGCMSealerFromBase64 creates a Sealer from a base64-encoded key, the
// form the key is carried in configuration.
func NewAESGCMSealerFromBase64(encoded string) (*AESGCMSealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	return NewAESGCMSealer(key)
}

func (s *AESGCMSealer) Encrypt(plaintext string) (string, error) {
	if s.IsEncrypted(plaintext) {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *AESGCMSealer) Decrypt(value string) (string, error) {
	if !s.IsEncrypted(value) {
		// Pre-encryption rows hold plain values; leave them untouched.
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, ciphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (s *AESGCMSealer) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, ciphertextPrefix)
}

var _ Sealer = (*AESGCMSealer)(nil)

// NoopSealer passes values through unchanged. Used when encryption at rest
// is disabled, and by tests that assert on cleartext.
type NoopSealer struct{}

func (NoopSealer) Encrypt(plaintext string) (string, error) { return plaintext, nil }
func (NoopSealer) Decrypt(value string) (string, error)     { return value, nil }
func (NoopSealer) IsEncrypted(string) bool                  { return false }

var _ Sealer = NoopSealer{}
