package websocket

import (
	"time"

	"grinpay/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeStatusChange - заказ перешел в новый статус
	MessageTypeStatusChange MessageType = "statusChange"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusChangeMessage - сообщение о переходе статуса
type StatusChangeMessage struct {
	BaseMessage
	Data *StatusChangeData `json:"data"`
}

// StatusChangeData - данные перехода
type StatusChangeData struct {
	ID         string             `json:"id"`
	MerchantID string             `json:"merchant_id"`
	OrderID    string             `json:"order_id"`
	SlateID    *string            `json:"slate_id,omitempty"`
	Status     models.OrderStatus `json:"status"`
	StatusInfo string             `json:"status_info"`

	// Суммы заказа (если заказ известен)
	Amount     *models.Money `json:"amount,omitempty"`
	GrinAmount *models.Money `json:"grin_amount,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// NewStatusChangeMessage создает сообщение о переходе
func NewStatusChangeMessage(order *models.Order, change *models.StatusChange) *StatusChangeMessage {
	data := &StatusChangeData{
		ID:         change.ID,
		MerchantID: change.MerchantID,
		OrderID:    change.OrderID,
		SlateID:    change.SlateID,
		Status:     change.Status,
		StatusInfo: models.StatusInfo(change.Status),
		OccurredAt: change.CreatedAt,
	}
	if order != nil {
		amount := models.NewMoney(order.FiatAmount, order.FiatCurrency)
		grins := order.Grins()
		data.Amount = &amount
		data.GrinAmount = &grins
	}

	return &StatusChangeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatusChange,
			Timestamp: time.Now().UTC(),
		},
		Data: data,
	}
}
