package wallet

import (
	"errors"
	"fmt"
	"net/http"
)

// Пути API кошелька и ноды
const (
	receiveTxPath       = "v1/wallet/foreign/receive_tx"
	retrieveTxsPath     = "v1/wallet/owner/retrieve_txs"
	retrieveOutputsPath = "v1/wallet/owner/retrieve_outputs"
	chainTipPath        = "v1/chain"
)

// Типы записей журнала транзакций кошелька
const (
	TxTypeConfirmedCoinbase = "ConfirmedCoinbase"
	TxTypeReceived          = "TxReceived"
	TxTypeSent              = "TxSent"
	TxTypeReceivedCancelled = "TxReceivedCancelled"
	TxTypeSentCancelled     = "TxSentCancelled"
)

// Статусы выходов кошелька
const (
	OutputUnconfirmed = "Unconfirmed"
	OutputUnspent     = "Unspent"
	OutputLocked      = "Locked"
	OutputSpent       = "Spent"
)

var (
	// ErrUnavailable - кошелек или нода недоступны (сеть, таймаут, 5xx)
	ErrUnavailable = errors.New("wallet backend unavailable")

	// ErrRejected - кошелек отверг содержимое слейта (400, 404, 409, 422)
	ErrRejected = errors.New("slate rejected by wallet")

	// ErrTxNotFound - кошелек не знает транзакцию слейта
	ErrTxNotFound = errors.New("wallet transaction not found")

	// ErrAmbiguousTx - кошелек вернул несколько записей для одного слейта
	ErrAmbiguousTx = errors.New("wallet returned several transactions for slate")
)

// APIError - ошибка ответа кошелька или ноды
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap относит ошибку к отказу или недоступности.
// Отказ - только ответы о содержимом запроса. Авторизация (401, 403),
// таймаут (408), троттлинг (429) и 5xx - проблемы шлюза или кошелька.
func (e *APIError) Unwrap() error {
	if e.IsRejection() {
		return ErrRejected
	}
	return ErrUnavailable
}

// IsRejection - кошелек отверг сам слейт
func (e *APIError) IsRejection() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// Retryable - повторять имеет смысл ошибки сервера, таймаут и троттлинг
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// ParticipantMessageData - публичное сообщение участника
type ParticipantMessageData struct {
	ID         uint64  `json:"id"`
	PublicKey  string  `json:"public_key"`
	Message    *string `json:"message"`
	MessageSig *string `json:"message_sig"`
}

// ParticipantMessages - сообщения участников транзакции
type ParticipantMessages struct {
	Messages []ParticipantMessageData `json:"messages"`
}

// TxLogEntry - запись журнала транзакций кошелька
type TxLogEntry struct {
	ParentKeyID    string               `json:"parent_key_id"`
	ID             uint32               `json:"id"`
	TxSlateID      *string              `json:"tx_slate_id"`
	TxType         string               `json:"tx_type"`
	CreationTS     string               `json:"creation_ts"`
	ConfirmationTS *string              `json:"confirmation_ts"`
	Confirmed      bool                 `json:"confirmed"`
	NumInputs      int                  `json:"num_inputs"`
	NumOutputs     int                  `json:"num_outputs"`
	AmountCredited uint64               `json:"amount_credited"`
	AmountDebited  uint64               `json:"amount_debited"`
	Fee            *uint64              `json:"fee"`
	Messages       *ParticipantMessages `json:"messages"`
	StoredTx       *string              `json:"stored_tx"`
}

// IsCancelled - транзакция отменена в кошельке
func (e *TxLogEntry) IsCancelled() bool {
	return e.TxType == TxTypeReceivedCancelled || e.TxType == TxTypeSentCancelled
}

// MessageTexts возвращает непустые тексты сообщений
func (e *TxLogEntry) MessageTexts() []string {
	if e.Messages == nil {
		return nil
	}
	var out []string
	for _, m := range e.Messages.Messages {
		if m.Message != nil && *m.Message != "" {
			out = append(out, *m.Message)
		}
	}
	return out
}

// TxListResponse - ответ retrieve_txs
type TxListResponse struct {
	Updated bool         `json:"updated"`
	Txs     []TxLogEntry `json:"txs"`
}

// Output - выход кошелька, относящийся к транзакции
type Output struct {
	Commit     string  `json:"commit"`
	Value      uint64  `json:"value"`
	Status     string  `json:"status"`
	Height     int64   `json:"height"`
	LockHeight int64   `json:"lock_height"`
	IsCoinbase bool    `json:"is_coinbase"`
	TxLogEntry *uint32 `json:"tx_log_entry"`
}

// IsConfirmed - выход включен в блок
func (o *Output) IsConfirmed() bool {
	return o.Status != OutputUnconfirmed && o.Height > 0
}

// OutputListResponse - ответ retrieve_outputs
type OutputListResponse struct {
	Updated bool     `json:"updated"`
	Outputs []Output `json:"outputs"`
}

// Tip - вершина цепочки по данным ноды
type Tip struct {
	Height          int64  `json:"height"`
	LastBlockPushed string `json:"last_block_pushed"`
	PrevBlockToLast string `json:"prev_block_to_last"`
	TotalDifficulty uint64 `json:"total_difficulty"`
}
