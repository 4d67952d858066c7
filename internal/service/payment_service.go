package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grinpay/internal/clock"
	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/internal/wallet"
	"grinpay/pkg/utils"
)

// Значения по умолчанию для приема слейтов
const (
	DefaultSubmitTimeout = 30 * time.Second

	// claimMargin - запас аренды захвата сверх таймаута кошелька
	claimMargin = 10 * time.Second

	// bookkeepingTimeout - запись результата после ответа кошелька,
	// выполняется даже если клиент уже отключился
	bookkeepingTimeout = 10 * time.Second
)

// SubmitResult - результат принятого слейта
type SubmitResult struct {
	Order       *models.Order       `json:"order"`
	Transaction *models.Transaction `json:"transaction"`
	Signed      []byte              `json:"-"`
}

// PaymentService принимает слейты плательщиков и передает их кошельку
type PaymentService struct {
	store         Store
	backend       WalletBackend
	lifecycle     *Lifecycle
	clock         clock.Clock
	submitTimeout time.Duration
	log           *utils.Logger
}

// NewPaymentService создает сервис приема слейтов
func NewPaymentService(store Store, backend WalletBackend, lifecycle *Lifecycle, clk clock.Clock, submitTimeout time.Duration) *PaymentService {
	if submitTimeout <= 0 {
		submitTimeout = DefaultSubmitTimeout
	}
	return &PaymentService{
		store:         store,
		backend:       backend,
		lifecycle:     lifecycle,
		clock:         clk,
		submitTimeout: submitTimeout,
		log:           utils.L().WithComponent("payment"),
	}
}

// SubmitSlate передает слейт кошельку и фиксирует результат.
//
// Слейт принимают заказы UNPAID (не истекшие) и REJECTED, сумма слейта должна
// точно совпадать с суммой заказа. До обращения к кошельку заказ захватывается
// за слейтом: проигравший захват получает ErrConflict, кошелек видит один запрос.
// Отказ кошелька переводит заказ в REJECTED. Если кошелек недоступен, захват
// снимается и заказ не меняется. Принятый слейт переводит заказ в RECEIVED
// вместе с записью транзакции.
func (s *PaymentService) SubmitSlate(ctx context.Context, key models.OrderKey, slate *models.Slate) (*SubmitResult, error) {
	log := s.log.WithOrder(key.MerchantID, key.OrderID).WithSlate(slate.ID)

	order, err := s.store.GetOrder(ctx, key)
	if err != nil {
		return nil, mapStoreError(err)
	}

	now := s.clock.Now()
	if err := checkAcceptsSlate(order, now); err != nil {
		metrics.RecordSubmission("invalid")
		return nil, err
	}
	if slate.Amount != order.GrinAmount {
		metrics.RecordSubmission("invalid")
		return nil, fmt.Errorf("%w: slate %d, order %d", ErrAmountMismatch, slate.Amount, order.GrinAmount)
	}

	from := order.Status
	leaseUntil := now.Add(s.submitTimeout + claimMargin)
	if err := s.store.ClaimOrder(ctx, key, from, slate.ID, now, leaseUntil); err != nil {
		metrics.RecordSubmission("conflict")
		return nil, mapStoreError(err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	start := time.Now()
	receipt, err := s.backend.Receive(submitCtx, slate)
	cancel()
	latency := float64(time.Since(start).Microseconds()) / 1000

	// Результат кошелька записываем даже при отключении клиента
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer bookCancel()

	switch {
	case err == nil:
		log.Info("slate accepted by wallet", utils.Latency(latency))
		return s.accept(bookCtx, order, from, slate, receipt)

	case wallet.IsRejection(err):
		log.Warn("slate rejected by wallet", utils.Latency(latency), utils.Err(err))
		return nil, s.reject(bookCtx, key, from, slate, err)

	default:
		log.Warn("wallet unavailable, releasing claim", utils.Latency(latency), utils.Err(err))
		if relErr := s.store.ReleaseClaim(bookCtx, key, slate.ID); relErr != nil {
			log.Error("failed to release claim", utils.Err(relErr))
		}
		metrics.RecordSubmission("unavailable")
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// accept фиксирует принятый кошельком слейт: RECEIVED + транзакция
func (s *PaymentService) accept(ctx context.Context, order *models.Order, from models.OrderStatus, slate *models.Slate, receipt *wallet.Receipt) (*SubmitResult, error) {
	now := s.clock.Now()
	tx := &models.Transaction{
		SlateID:    slate.ID,
		MerchantID: order.MerchantID,
		OrderID:    order.OrderID,
		Amount:     receipt.Amount,
		Fee:        receipt.Fee,
		Messages:   receipt.Messages,
		NumInputs:  receipt.NumInputs,
		NumOutputs: receipt.NumOutputs,
		TxType:     receipt.TxType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	result, err := s.lifecycle.Apply(ctx, repository.Transition{
		Key:          order.Key(),
		From:         from,
		Steps:        resubmitPath(from, models.OrderStatusReceived),
		SlateID:      slate.ID,
		ClaimSlateID: slate.ID,
		Insert:       tx,
		At:           now,
	})
	if err != nil {
		// Кошелек уже принял слейт, а заказ остался в прежнем статусе.
		// Захват истечет сам, слейт оператор сверяет с кошельком вручную.
		s.log.Error("wallet accepted slate but transition failed",
			utils.MerchantID(order.MerchantID),
			utils.OrderID(order.OrderID),
			utils.SlateID(slate.ID),
			utils.Err(err))
		metrics.RecordSubmission("unrecorded")
		return nil, mapStoreError(err)
	}

	metrics.RecordSubmission("accepted")
	return &SubmitResult{Order: result.Order, Transaction: tx, Signed: receipt.Signed}, nil
}

// reject фиксирует отказ кошелька: REJECTED, транзакция не сохраняется
func (s *PaymentService) reject(ctx context.Context, key models.OrderKey, from models.OrderStatus, slate *models.Slate, cause error) error {
	_, err := s.lifecycle.Apply(ctx, repository.Transition{
		Key:          key,
		From:         from,
		Steps:        resubmitPath(from, models.OrderStatusRejected),
		ClaimSlateID: slate.ID,
		At:           s.clock.Now(),
	})
	if err != nil {
		metrics.RecordSubmission("conflict")
		return mapStoreError(err)
	}

	metrics.RecordSubmission("rejected")
	detail := cause.Error()
	var apiErr *wallet.APIError
	if errors.As(cause, &apiErr) && apiErr.Message != "" {
		detail = apiErr.Message
	}
	return fmt.Errorf("%w: %s", ErrSlateRejected, detail)
}

// checkAcceptsSlate проверяет что заказ может принять слейт
func checkAcceptsSlate(order *models.Order, now time.Time) error {
	if !models.AcceptsSlate(order.Status) {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}
	if order.Status == models.OrderStatusUnpaid && order.IsExpired(now) {
		return fmt.Errorf("%w: order expired at %s", ErrInvalidState, order.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// resubmitPath - шаги журнала до статуса to.
// Повторная отправка после REJECTED проходит через UNPAID.
func resubmitPath(from, to models.OrderStatus) []models.OrderStatus {
	if from == models.OrderStatusRejected {
		return []models.OrderStatus{models.OrderStatusUnpaid, to}
	}
	return []models.OrderStatus{to}
}
