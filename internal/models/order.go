package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus - статус заказа мерчанта
type OrderStatus string

// Статусы заказа
const (
	OrderStatusUnpaid    OrderStatus = "UNPAID"
	OrderStatusReceived  OrderStatus = "RECEIVED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// ParseOrderStatus преобразует строку из БД в OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusUnpaid, OrderStatusReceived, OrderStatusConfirmed, OrderStatusRejected, OrderStatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// OrderKey - составной ключ заказа (merchant_id, order_id).
// Сравнивается по значению, используется как ключ map.
type OrderKey struct {
	MerchantID string `json:"merchant_id"`
	OrderID    string `json:"order_id"`
}

// String возвращает ключ в читаемом виде (только для логов)
func (k OrderKey) String() string {
	return k.MerchantID + "/" + k.OrderID
}

// Order представляет заказ мерчанта
type Order struct {
	MerchantID string `json:"merchant_id" db:"merchant_id"`
	OrderID    string `json:"order_id" db:"order_id"`

	// Сумма в фиатной валюте (в минимальных единицах: центы)
	FiatAmount   int64    `json:"amount" db:"fiat_amount"`
	FiatCurrency Currency `json:"currency" db:"fiat_currency"`

	// Сумма в наногринах, фиксируется при создании и больше не меняется
	GrinAmount int64           `json:"grin_amount" db:"grin_amount"`
	Rate       decimal.Decimal `json:"rate" db:"rate"`

	ConfirmationsRequired int     `json:"confirmations_required" db:"confirmations_required"`
	CallbackURL           string  `json:"callback_url" db:"callback_url"`
	CallbackToken         string  `json:"-" db:"callback_token"` // зашифрован (AES-GCM)
	Email                 *string `json:"email,omitempty" db:"email"`

	Status OrderStatus `json:"status" db:"status"`

	// Захват заказа на время отправки слейта в кошелек
	ClaimSlateID   *string    `json:"-" db:"claim_slate_id"`
	ClaimExpiresAt *time.Time `json:"-" db:"claim_expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Key возвращает составной ключ заказа
func (o *Order) Key() OrderKey {
	return OrderKey{MerchantID: o.MerchantID, OrderID: o.OrderID}
}

// Grins возвращает сумму заказа в GRIN
func (o *Order) Grins() Money {
	return NewMoney(o.GrinAmount, CurrencyGRIN)
}

// IsExpired проверяет истек ли срок оплаты
func (o *Order) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// HasLiveClaim возвращает true если заказ захвачен незавершенной отправкой слейта
func (o *Order) HasLiveClaim(now time.Time) bool {
	return o.ClaimExpiresAt != nil && now.Before(*o.ClaimExpiresAt)
}

// SecondsUntilExpired - сколько секунд осталось до истечения (0 если уже истек)
func (o *Order) SecondsUntilExpired(now time.Time) int64 {
	left := o.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
