package worker

import (
	"context"
	"errors"
	"time"

	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/internal/service"
	"grinpay/internal/wallet"
)

var errPanic = errors.New("task panicked")

// Transitioner выполняет переходы статусов (service.Lifecycle)
type Transitioner interface {
	Apply(ctx context.Context, t repository.Transition) (*repository.TransitionResult, error)
}

// PollStore - данные, нужные опросу подтверждений
type PollStore interface {
	GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error)
	ListActiveTransactions(ctx context.Context) ([]*models.Transaction, error)
}

// SweepStore - данные, нужные истечению заказов
type SweepStore interface {
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
}

// DeliveryStore - outbox доставок callback
type DeliveryStore interface {
	GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error)
	ClaimDueDeliveries(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.CallbackDelivery, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, id, lastError string, next time.Time, final bool) error
}

// DepthSource - глубина транзакции в сети
type DepthSource interface {
	TxStatus(ctx context.Context, slateID string) (*wallet.TxStatus, error)
}

// TokenSource расшифровывает callback токен заказа
type TokenSource interface {
	CallbackToken(order *models.Order) (string, error)
}

var _ Transitioner = (*service.Lifecycle)(nil)
var _ PollStore = (service.Store)(nil)
var _ SweepStore = (service.Store)(nil)
var _ DeliveryStore = (service.Store)(nil)
var _ DepthSource = (service.WalletBackend)(nil)
var _ TokenSource = (*service.TokenOpener)(nil)
var _ service.ChangeListener = (*Dispatcher)(nil)
