package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusChange - неизменяемая запись о переходе заказа в новый статус.
// Пишется только хранилищем, в одной транзакции с самим переходом.
type StatusChange struct {
	ID         string      `json:"id" db:"id"`
	MerchantID string      `json:"merchant_id" db:"merchant_id"`
	OrderID    string      `json:"order_id" db:"order_id"`
	SlateID    *string     `json:"slate_id,omitempty" db:"slate_id"`
	Status     OrderStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// OrderKey возвращает ключ заказа
func (c *StatusChange) OrderKey() OrderKey {
	return OrderKey{MerchantID: c.MerchantID, OrderID: c.OrderID}
}

// DeliveryState - состояние доставки callback
type DeliveryState string

// Состояния доставки
const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
)

// CallbackDelivery - запись outbox для уведомления мерчанта о терминальном переходе.
// ID совпадает с ID StatusChange, поэтому на один переход может быть только одна доставка.
type CallbackDelivery struct {
	ID         string      `json:"id" db:"id"`
	MerchantID string      `json:"merchant_id" db:"merchant_id"`
	OrderID    string      `json:"order_id" db:"order_id"`
	Status     OrderStatus `json:"status" db:"status"`
	OccurredAt time.Time   `json:"occurred_at" db:"occurred_at"`

	State         DeliveryState `json:"state" db:"state"`
	Attempts      int           `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time     `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     string        `json:"last_error,omitempty" db:"last_error"`
	DeliveredAt   *time.Time    `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// OrderKey возвращает ключ заказа
func (d *CallbackDelivery) OrderKey() OrderKey {
	return OrderKey{MerchantID: d.MerchantID, OrderID: d.OrderID}
}

// WebhookPayload - тело POST запроса на callback_url мерчанта.
// Строится только из неизменяемых полей доставки, поэтому одинаково при повторах.
type WebhookPayload struct {
	MerchantID string      `json:"merchant_id"`
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Payload возвращает тело webhook для доставки
func (d *CallbackDelivery) Payload() WebhookPayload {
	return WebhookPayload{
		MerchantID: d.MerchantID,
		OrderID:    d.OrderID,
		Status:     d.Status,
		OccurredAt: d.OccurredAt.UTC(),
	}
}

// Rate - курс GRIN в фиатной валюте на момент обновления
type Rate struct {
	Currency  Currency        `json:"currency" db:"id"`
	Rate      decimal.Decimal `json:"rate" db:"rate"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
