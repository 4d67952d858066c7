package service

import (
	"errors"
	"fmt"

	"grinpay/internal/models"
	"grinpay/internal/repository"
)

// Ошибки сервисов шлюза
var (
	ErrNotFound           = errors.New("order not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("operation not allowed in current order status")
	ErrAmountMismatch     = errors.New("slate amount does not match order amount")
	ErrBackendUnavailable = errors.New("wallet backend unavailable")
	ErrDeliveryFailed     = errors.New("callback delivery failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateUnavailable    = errors.New("exchange rate unavailable")
	ErrSlateRejected      = errors.New("slate rejected by wallet")
)

// ErrUnsupportedCurrency - валюта вне поддерживаемого набора (частный случай ErrInvalidInput)
var ErrUnsupportedCurrency = fmt.Errorf("%w: unsupported currency", ErrInvalidInput)

// mapStoreError переводит ошибки хранилища в ошибки сервиса
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrDuplicateOrder),
		errors.Is(err, repository.ErrStatusConflict),
		errors.Is(err, repository.ErrClaimHeld),
		errors.Is(err, repository.ErrDuplicateTransaction):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, models.ErrUnsupportedCurrency):
		return fmt.Errorf("%w: %w", ErrUnsupportedCurrency, err)
	case errors.Is(err, models.ErrAmountOverflow):
		return inputError(err)
	default:
		return err
	}
}

// inputError оборачивает ошибки валидации в ErrInvalidInput.
// Исходная ошибка (например, utils.ValidationErrors) доступна через errors.As.
func inputError(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
