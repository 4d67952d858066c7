package wallet

import (
	"context"
	"errors"

	"grinpay/internal/models"
	"grinpay/pkg/utils"
)

// Receipt - результат приема слейта кошельком.
// Метаданные берутся из журнала кошелька, при его недоступности - из слейта.
type Receipt struct {
	SlateID    string
	Signed     []byte
	Amount     int64
	Fee        int64
	Messages   []string
	NumInputs  int
	NumOutputs int
	TxType     string
}

// TxStatus - состояние транзакции в сети
type TxStatus struct {
	Confirmations int64
	Height        int64 // высота блока с выходами, 0 если не в блоке
	TipHeight     int64
	Cancelled     bool
}

// Backend - кошелек и нода в терминах шлюза: прием слейта и глубина транзакции
type Backend struct {
	client *Client
	log    *utils.Logger
}

// NewBackend создает backend поверх клиента
func NewBackend(client *Client) *Backend {
	return &Backend{
		client: client,
		log:    utils.L().WithComponent("wallet"),
	}
}

// Receive передает слейт кошельку.
// Ошибка с ErrRejected - кошелек отверг слейт, с ErrUnavailable - ответа нет.
func (b *Backend) Receive(ctx context.Context, slate *models.Slate) (*Receipt, error) {
	signed, err := b.client.ReceiveTx(ctx, slate.Raw)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		SlateID:  slate.ID,
		Signed:   signed,
		Amount:   slate.Amount,
		Fee:      slate.Fee,
		Messages: slate.Messages(),
		TxType:   TxTypeReceived,
	}

	entry, err := b.client.RetrieveTx(ctx, slate.ID)
	if err != nil {
		b.log.Debug("tx log entry unavailable, using slate metadata",
			utils.SlateID(slate.ID), utils.Err(err))
		return receipt, nil
	}

	receipt.NumInputs = entry.NumInputs
	receipt.NumOutputs = entry.NumOutputs
	if entry.TxType != "" {
		receipt.TxType = entry.TxType
	}
	if entry.Fee != nil {
		receipt.Fee = int64(*entry.Fee)
	}
	if msgs := entry.MessageTexts(); len(msgs) > 0 {
		receipt.Messages = msgs
	}
	return receipt, nil
}

// TxStatus возвращает глубину транзакции слейта.
// Неподтвержденные выходы дают 0 подтверждений.
func (b *Backend) TxStatus(ctx context.Context, slateID string) (*TxStatus, error) {
	entry, err := b.client.RetrieveTx(ctx, slateID)
	if err != nil {
		return nil, err
	}
	if entry.IsCancelled() {
		return &TxStatus{Cancelled: true}, nil
	}

	outputs, err := b.client.RetrieveOutputs(ctx, slateID)
	if err != nil {
		return nil, err
	}

	height := inclusionHeight(outputs)
	if height == 0 {
		return &TxStatus{}, nil
	}

	tip, err := b.client.Tip(ctx)
	if err != nil {
		return nil, err
	}

	return &TxStatus{
		Confirmations: Depth(tip.Height, height),
		Height:        height,
		TipHeight:     tip.Height,
	}, nil
}

// Ping проверяет доступность ноды
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.Tip(ctx)
	return err
}

// inclusionHeight - высота блока, включившего транзакцию (минимальная среди выходов)
func inclusionHeight(outputs []Output) int64 {
	var height int64
	for i := range outputs {
		o := &outputs[i]
		if !o.IsConfirmed() {
			continue
		}
		if height == 0 || o.Height < height {
			height = o.Height
		}
	}
	return height
}

// Depth - число подтверждений выхода на высоте height при вершине tip
func Depth(tip, height int64) int64 {
	if height <= 0 || tip < height {
		return 0
	}
	return tip - height + 1
}

// IsRejection - ошибка означает отказ кошелька, а не недоступность
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}
