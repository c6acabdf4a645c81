// Package secret encrypts tenant database passwords at rest.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: Box implements domain.SecretBox.
var _ domain.SecretBox = (*Box)(nil)

// Prefix marks values produced by Box. The version allows key or format
// rotation later.
const Prefix = "tdb:v1:"

// ErrNotEncrypted is returned for values that do not carry Prefix.
var ErrNotEncrypted = errors.New("secret: not an encrypted value")

// Box is an AES-256-GCM sealer. Output is Prefix + base64(nonce||ciphertext).
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a box from either 64 hex characters (a raw 32-byte key) or
// a passphrase, which is stretched with HKDF-SHA256.
func NewBox(key string) (*Box, error) {
	if key == "" {
		return nil, errors.New("secret: empty encryption key")
	}

	raw, err := deriveKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("secret: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: create GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

func deriveKey(key string) ([]byte, error) {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}

	raw := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(key), nil, []byte("tenantops tenant database credentials"))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}
	return raw, nil
}

func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, Prefix)
	if !ok {
		return "", ErrNotEncrypted
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secret: decode: %w", err)
	}

	size := b.aead.NonceSize()
	if len(data) < size {
		return "", errors.New("secret: ciphertext too short")
	}

	plaintext, err := b.aead.Open(nil, data[:size], data[size:], nil)
	if err != nil {
		// Never wrap: the AEAD error is the same for a wrong key and tampering.
		return "", errors.New("secret: decryption failed")
	}
	return string(plaintext), nil
}
