package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/internal/wallet"
)

// Store определяет интерфейс хранилища шлюза.
// Все изменения статуса заказа проходят через Transition.
type Store interface {
	Ping(ctx context.Context) error

	// Заказы
	CreateOrder(ctx context.Context, o *models.Order) (*models.StatusChange, error)
	GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error)
	ClaimOrder(ctx context.Context, key models.OrderKey, expected models.OrderStatus, slateID string, now, until time.Time) error
	ReleaseClaim(ctx context.Context, key models.OrderKey, slateID string) error
	Transition(ctx context.Context, t repository.Transition) (*repository.TransitionResult, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)

	// Транзакции
	GetTransaction(ctx context.Context, slateID string) (*models.Transaction, error)
	GetTransactionsByOrder(ctx context.Context, key models.OrderKey) ([]*models.Transaction, error)
	ListActiveTransactions(ctx context.Context) ([]*models.Transaction, error)

	// Журнал статусов
	GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error)

	// Доставки callback
	ClaimDueDeliveries(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.CallbackDelivery, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkAttemptFailed(ctx context.Context, id, lastError string, next time.Time, final bool) error
	GetDeliveriesByOrder(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error)
	ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error)

	// Курсы
	GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error)
	SetRate(ctx context.Context, currency models.Currency, rate decimal.Decimal, at time.Time) error
}

// WalletBackend - кошелек и нода: прием слейта и глубина транзакции
type WalletBackend interface {
	// Receive передает слейт кошельку.
	// Ошибка с wallet.ErrRejected - отказ, любая другая - кошелек недоступен.
	Receive(ctx context.Context, slate *models.Slate) (*wallet.Receipt, error)

	// TxStatus возвращает число подтверждений транзакции слейта
	TxStatus(ctx context.Context, slateID string) (*wallet.TxStatus, error)
}

// RateSource - снимок курса валюты к GRIN
type RateSource interface {
	GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error)
}

// ChangeListener получает каждый записанный переход статуса.
// Вызывается синхронно после коммита, поэтому не должен блокироваться.
type ChangeListener interface {
	OnStatusChange(order *models.Order, change *models.StatusChange)
}

// ChangeListenerFunc - функция как ChangeListener
type ChangeListenerFunc func(order *models.Order, change *models.StatusChange)

// OnStatusChange вызывает f
func (f ChangeListenerFunc) OnStatusChange(order *models.Order, change *models.StatusChange) {
	f(order, change)
}

// Проверяем, что реальные реализации удовлетворяют интерфейсам
var _ Store = (*repository.PostgresStore)(nil)
var _ Store = (*repository.MemoryStore)(nil)
var _ WalletBackend = (*wallet.Backend)(nil)
var _ RateSource = (*RateProvider)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// OrderServiceInterface определяет интерфейс сервиса заказов
type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error)
	GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error)
	GetPaymentStatus(ctx context.Context, key models.OrderKey) (*PaymentStatus, error)
	GetDeliveries(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error)
	ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error)
}

// PaymentServiceInterface определяет интерфейс приема слейтов
type PaymentServiceInterface interface {
	SubmitSlate(ctx context.Context, key models.OrderKey, slate *models.Slate) (*SubmitResult, error)
}

var _ OrderServiceInterface = (*OrderService)(nil)
var _ PaymentServiceInterface = (*PaymentService)(nil)
