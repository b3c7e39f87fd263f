package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptedPrefix marks encrypted values in the database
	EncryptedPrefix = "enc:v1:"

	pbkdf2Iterations = 100000
	keyLength        = 32 // AES-256
)

// tokenSalt is fixed: the configured key is a server secret, not a user password.
var tokenSalt = []byte("displex/token-store/v1")

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// SecretStore seals provider tokens before they are written to the database.
// A nil *SecretStore stores values in plaintext.
type SecretStore struct {
	key []byte
}

// NewSecretStore derives an AES-256 key from secret. An empty secret returns
// nil, which disables encryption.
func NewSecretStore(secret string) *SecretStore {
	if secret == "" {
		return nil
	}
	key := pbkdf2.Key([]byte(secret), tokenSalt, pbkdf2Iterations, keyLength, sha256.New)
	return &SecretStore{key: key}
}

// Enabled reports whether values are actually encrypted.
func (s *SecretStore) Enabled() bool {
	return s != nil
}

// Encrypt seals plaintext with AES-256-GCM and returns it base64 encoded
// behind EncryptedPrefix.
func (s *SecretStore) Encrypt(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without EncryptedPrefix are returned as-is.
func (s *SecretStore) Decrypt(ciphertext string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}
	if s == nil {
		return "", ErrDecryptionFailed
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

func (s *SecretStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// IsEncrypted checks if a value has the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}
