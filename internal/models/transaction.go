package models

import "time"

// Transaction представляет принятый кошельком слейт
type Transaction struct {
	SlateID    string `json:"slate_id" db:"slate_id"`
	MerchantID string `json:"merchant_id" db:"merchant_id"`
	OrderID    string `json:"order_id" db:"order_id"`

	Amount     int64     `json:"amount" db:"amount"` // наногрины
	Fee        int64     `json:"fee" db:"fee"`
	Messages   []string  `json:"messages" db:"messages"` // непрозрачные сообщения участников
	NumInputs  int       `json:"num_inputs" db:"num_inputs"`
	NumOutputs int       `json:"num_outputs" db:"num_outputs"`
	TxType     string    `json:"tx_type" db:"tx_type"` // TxReceived, ...

	Confirmed   bool       `json:"confirmed" db:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrderKey возвращает ключ заказа, которому принадлежит транзакция
func (t *Transaction) OrderKey() OrderKey {
	return OrderKey{MerchantID: t.MerchantID, OrderID: t.OrderID}
}

// IsActive - транзакция ожидает подтверждений в сети
func (t *Transaction) IsActive() bool {
	return !t.Confirmed && t.CancelledAt == nil
}
