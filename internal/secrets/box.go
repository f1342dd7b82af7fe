// Package secrets seals per-user provider credentials at rest.
//
// A Box derives one AES-256 key from the server secret and uses it for every
// user. Decrypt only ever returns a plaintext that passes the credential
// format check, so a tampered or mis-keyed ciphertext cannot produce a
// usable-looking key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const (
	version          = "v1."
	keySalt          = "alibi/credential-box/v1"
	minCredentialLen = 20
	maxCredentialLen = 512
)

var (
	// ErrDecrypt covers every decryption failure. It carries no detail about
	// the input on purpose.
	ErrDecrypt = errors.New("credential decryption failed")

	ErrInvalidFormat = errors.New("credential has an invalid format")
)

type Box struct {
	aead   cipher.AEAD
	prefix string
}

func NewBox(secret, prefix string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("encryption secret is required")
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, errors.New("credential prefix is required")
	}

	key := argon2.IDKey([]byte(secret), []byte(keySalt), 1, 64*1024, 4, 32)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Box{aead: aead, prefix: prefix}, nil
}

// ValidFormat is the credential format check: the configured prefix, no
// whitespace or control characters, and a plausible length.
func (b *Box) ValidFormat(credential string) bool {
	if len(credential) < minCredentialLen || len(credential) > maxCredentialLen {
		return false
	}
	if !strings.HasPrefix(credential, b.prefix) {
		return false
	}
	for _, r := range credential {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func (b *Box) Encrypt(plaintext string) (string, error) {
	if !b.ValidFormat(plaintext) {
		return "", ErrInvalidFormat
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(version))
	return version + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(strings.TrimSpace(ciphertext), version)
	if !ok {
		return "", ErrDecrypt
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}

	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize+b.aead.Overhead() {
		return "", ErrDecrypt
	}

	plaintext, err := b.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(version))
	if err != nil {
		return "", ErrDecrypt
	}

	credential := string(plaintext)
	if !b.ValidFormat(credential) {
		return "", ErrDecrypt
	}
	return credential, nil
}
