package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// EncryptionService handles field-level encryption and blind indexing.
// Values are AES-256-GCM encrypted with a random nonce prepended, then
// base64-encoded; blind indexes are HMAC-SHA256 over normalized input so
// encrypted columns stay searchable by exact match.
type EncryptionService struct {
	aead          cipher.AEAD
	blindIndexKey []byte
}

// NewEncryptionService builds the service. Both keys must be 32 bytes:
// encryptionKey for AES-256, blindIndexKey for HMAC-SHA256.
func NewEncryptionService(encryptionKey, blindIndexKey []byte) (*EncryptionService, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	if len(blindIndexKey) != 32 {
		return nil, errors.New("blind index key must be 32 bytes")
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptionService{
		aead:          aead,
		blindIndexKey: blindIndexKey,
	}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext). Empty
// input stays empty so optional columns round-trip as-is.
func (s *EncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails GCM
// authentication and returns an error.
func (s *EncryptionService) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, cipherBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// GenerateBlindIndex returns the deterministic lookup hash for plaintext.
// Input is trimmed and lowercased first, so "Ana@Example.com " and
// "ana@example.com" index identically.
func (s *EncryptionService) GenerateBlindIndex(plaintext string) string {
	plaintext = strings.ToLower(strings.TrimSpace(plaintext))
	if plaintext == "" {
		return ""
	}

	h := hmac.New(sha256.New, s.blindIndexKey)
	h.Write([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// EncryptWithBlindIndex encrypts data and returns both the encrypted value
// and its blind index.
func (s *EncryptionService) EncryptWithBlindIndex(plaintext string) (encrypted, blindIndex string, err error) {
	encrypted, err = s.Encrypt(plaintext)
	if err != nil {
		return "", "", err
	}
	blindIndex = s.GenerateBlindIndex(plaintext)
	return encrypted, blindIndex, nil
}
