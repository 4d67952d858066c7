package crypto

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования
var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match hash")
	ErrInvalidHash      = errors.New("invalid password hash format")
	ErrPasswordTooLong  = errors.New("password exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxPasswordLength - bcrypt учитывает только первые 72 байта
const MaxPasswordLength = 72

// HashPassword хеширует пароль bcrypt с указанной стоимостью
// (значения вне [bcrypt.MinCost, bcrypt.MaxCost] приводятся к границам)
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword проверяет соответствие пароля хешу
func VerifyPassword(password, hash string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// ValidateHash проверяет что строка - bcrypt хеш (для проверки конфигурации)
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return ErrInvalidHash
	}
	return nil
}

// ============ Учетные данные оператора ============

// Credentials - логин и bcrypt хеш пароля оператора
type Credentials struct {
	Username     string
	PasswordHash string
}

// Verify проверяет пару логин/пароль.
// Хеш проверяется и при неверном логине, чтобы время ответа не зависело от логина.
func (c Credentials) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK := VerifyPassword(password, c.PasswordHash) == nil
	return userOK && passOK
}
