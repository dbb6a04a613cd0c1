// Package secrets encrypts API credentials for storage and masks them
// for display. Tokens use the fernet format: each encryption picks a
// random IV, so encrypting the same plaintext twice yields different
// ciphertexts.
package secrets

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// ErrDecrypt is returned when a stored ciphertext cannot be verified or
// decrypted with the configured key.
var ErrDecrypt = errors.New("secrets: invalid or corrupted ciphertext")

// Codec encrypts and decrypts credentials with a process-wide symmetric key.
type Codec struct {
	key *fernet.Key
}

// NewCodec builds a Codec from a base64-encoded 32-byte fernet key.
func NewCodec(encodedKey string) (*Codec, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decoding encryption key: %w", err)
	}
	return &Codec{key: key}, nil
}

// GenerateKey returns a new random key in the encoded form NewCodec accepts.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("secrets: generating key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt returns the fernet token for plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: encrypting: %w", err)
	}
	return string(tok), nil
}

// Decrypt verifies and decrypts a stored token. Tokens do not expire;
// a zero TTL disables the fernet timestamp check.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrDecrypt
	}
	return string(msg), nil
}

// Mask returns a display-safe form of a credential: first four and last
// four characters for keys longer than 8 characters, otherwise a fixed
// placeholder. The full credential must never reach logs or responses.
func Mask(key string) string {
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}
