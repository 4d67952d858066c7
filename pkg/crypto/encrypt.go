// Package crypto - шифрование callback токенов мерчантов и проверка паролей оператора.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

// KeySize - длина ключа AES-256
const KeySize = 32

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// TokenCipher шифрует секреты мерчантов (callback token) AES-256-GCM.
//
// Шифротекст привязан к контексту (additional data), например к ключу заказа:
// токен, скопированный в строку другого заказа, не расшифруется.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher создает шифр с 32-байтным ключом
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: gcm}, nil
}

// Seal шифрует plaintext и возвращает base64(nonce || ciphertext || tag).
// Пустая строка не шифруется.
func (c *TokenCipher) Seal(plaintext, context string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает результат Seal с тем же контекстом
func (c *TokenCipher) Open(sealed, context string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// ============ Ключи ============

// GenerateKey генерирует случайный ключ AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ValidateKey проверяет длину ключа
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKeyLength
	}
	return nil
}

// ParseKey разбирает ключ из конфигурации: 64 hex символа или ровно 32 байта
func ParseKey(s string) ([]byte, error) {
	if len(s) == 2*KeySize {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key := []byte(s)
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}
