package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Ошибки валидации
var (
	ErrInvalidMerchantID    = errors.New("invalid merchant id")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrInvalidConfirmations = errors.New("confirmations out of range")
	ErrInvalidCallbackURL   = errors.New("invalid callback url")
	ErrInvalidEmail         = errors.New("invalid email format")
)

// Ограничения идентификаторов
const (
	MaxIDLength       = 64
	MaxCallbackURLLen = 2048
)

var (
	idRegex    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// ValidateMerchantID проверяет идентификатор мерчанта
func ValidateMerchantID(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidMerchantID, id)
	}
	return nil
}

// ValidateOrderID проверяет идентификатор заказа мерчанта
func ValidateOrderID(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidOrderID, id)
	}
	return nil
}

func validID(id string) bool {
	return id != "" && len(id) <= MaxIDLength && idRegex.MatchString(id)
}

// ValidateAmount проверяет сумму в минимальных единицах
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateConfirmations проверяет требуемое число подтверждений (1..max)
func ValidateConfirmations(n, max int) error {
	if n < 1 || n > max {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidConfirmations, n, max)
	}
	return nil
}

// ValidateCallbackURL проверяет URL для webhook: только http(s) с хостом
func ValidateCallbackURL(raw string) error {
	if raw == "" || len(raw) > MaxCallbackURLLen {
		return ErrInvalidCallbackURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallbackURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidCallbackURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidCallbackURL)
	}
	return nil
}

// ValidateEmail проверяет формат email
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || strings.Count(email, "@") != 1 || !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// IsValidEmail - булева обертка ValidateEmail
func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}

// ============ ValidationErrors ============

// ValidationError - ошибка конкретного поля
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors - накопитель ошибок валидации запроса
type ValidationErrors []ValidationError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку поля, если err != nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors - есть ли ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Error реализует интерфейс error
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Fields возвращает ошибки в виде map поле -> сообщение
func (v ValidationErrors) Fields() map[string]string {
	result := make(map[string]string, len(v))
	for _, e := range v {
		result[e.Field] = e.Message
	}
	return result
}
