package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grinpay/internal/models"
)

// ErrInvalidTransition - путь статусов не соответствует графу переходов
var ErrInvalidTransition = errors.New("invalid status transition")

// ============ Transition ============

// Transition описывает атомарный переход заказа.
//
// Заказ переходит из From в последний статус Steps только если текущий
// статус равен From. Каждый шаг Steps записывается в журнал отдельной строкой,
// так повторная отправка после REJECTED фиксирует REJECTED → UNPAID → RECEIVED.
type Transition struct {
	Key   models.OrderKey
	From  models.OrderStatus
	Steps []models.OrderStatus

	// SlateID привязывает записи журнала к транзакции.
	// Транзакция должна существовать или вставляться через Insert.
	SlateID string

	// ClaimSlateID требует, чтобы заказ был захвачен этим слейтом
	ClaimSlateID string

	// RequireNoLiveClaim запрещает переход при живом захвате (для истечения)
	RequireNoLiveClaim bool

	// Insert - новая транзакция, вставляется в той же транзакции БД
	Insert *models.Transaction

	// ConfirmSlate / CancelSlate отмечают транзакцию SlateID
	ConfirmSlate bool
	CancelSlate  bool

	At time.Time
}

// To возвращает итоговый статус перехода
func (t *Transition) To() models.OrderStatus {
	if len(t.Steps) == 0 {
		return ""
	}
	return t.Steps[len(t.Steps)-1]
}

// Validate проверяет переход до обращения к хранилищу
func (t *Transition) Validate() error {
	if !models.ValidPath(t.From, t.Steps) {
		return fmt.Errorf("%w: %s -> %v", ErrInvalidTransition, t.From, t.Steps)
	}
	if (t.ConfirmSlate || t.CancelSlate || t.Insert != nil) && t.SlateID == "" {
		return fmt.Errorf("%w: slate id required", ErrInvalidTransition)
	}
	if t.Insert != nil && t.Insert.SlateID != t.SlateID {
		return fmt.Errorf("%w: inserted slate does not match", ErrInvalidTransition)
	}
	return nil
}

// TransitionResult - результат успешного перехода
type TransitionResult struct {
	Order      *models.Order
	Changes    []*models.StatusChange
	Deliveries []*models.CallbackDelivery
}

// buildRecords создает записи журнала и доставки для шагов перехода
func buildRecords(t *Transition) ([]*models.StatusChange, []*models.CallbackDelivery) {
	var slateID *string
	if t.SlateID != "" {
		id := t.SlateID
		slateID = &id
	}

	changes := make([]*models.StatusChange, 0, len(t.Steps))
	var deliveries []*models.CallbackDelivery
	for _, step := range t.Steps {
		change := &models.StatusChange{
			ID:         uuid.NewString(),
			MerchantID: t.Key.MerchantID,
			OrderID:    t.Key.OrderID,
			SlateID:    slateID,
			Status:     step,
			CreatedAt:  t.At,
		}
		changes = append(changes, change)

		if models.NeedsCallback(step) {
			deliveries = append(deliveries, newDelivery(change))
		}
	}
	return changes, deliveries
}

func newDelivery(c *models.StatusChange) *models.CallbackDelivery {
	return &models.CallbackDelivery{
		ID:            c.ID,
		MerchantID:    c.MerchantID,
		OrderID:       c.OrderID,
		Status:        c.Status,
		OccurredAt:    c.CreatedAt,
		State:         models.DeliveryPending,
		NextAttemptAt: c.CreatedAt,
		CreatedAt:     c.CreatedAt,
	}
}

func initialChange(o *models.Order) *models.StatusChange {
	return &models.StatusChange{
		ID:         uuid.NewString(),
		MerchantID: o.MerchantID,
		OrderID:    o.OrderID,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}
}

// ============ PostgresStore ============

// PostgresStore - хранилище шлюза поверх PostgreSQL.
// Объединяет репозитории и выполняет переходы в одной транзакции БД.
type PostgresStore struct {
	db           *sql.DB
	orders       *OrderRepository
	transactions *TransactionRepository
	changes      *StatusChangeRepository
	deliveries   *DeliveryRepository
	rates        *RateRepository
}

// NewPostgresStore создает хранилище
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:           db,
		orders:       NewOrderRepository(db),
		transactions: NewTransactionRepository(db),
		changes:      NewStatusChangeRepository(db),
		deliveries:   NewDeliveryRepository(db),
		rates:        NewRateRepository(db),
	}
}

// Ping проверяет соединение с БД
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateOrder сохраняет заказ вместе с начальной записью журнала
func (s *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) (*models.StatusChange, error) {
	change := initialChange(o)

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.orders.create(ctx, tx, o); err != nil {
			return err
		}
		return s.changes.append(ctx, tx, change)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// GetOrder возвращает заказ
func (s *PostgresStore) GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error) {
	return s.orders.GetByKey(ctx, key)
}

// ClaimOrder захватывает заказ под отправку слейта
func (s *PostgresStore) ClaimOrder(ctx context.Context, key models.OrderKey, expected models.OrderStatus, slateID string, now, until time.Time) error {
	return s.orders.Claim(ctx, key, expected, slateID, now, until)
}

// ReleaseClaim снимает захват слейта
func (s *PostgresStore) ReleaseClaim(ctx context.Context, key models.OrderKey, slateID string) error {
	return s.orders.ReleaseClaim(ctx, key, slateID)
}

// Transition выполняет переход статуса.
//
// В одной транзакции БД:
// 1. CAS статуса заказа (UPDATE ... WHERE status = From)
// 2. Вставка или отметка транзакции слейта
// 3. Записи журнала для каждого шага
// 4. Строки outbox для статусов, требующих callback
func (s *PostgresStore) Transition(ctx context.Context, t Transition) (*TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	changes, deliveries := buildRecords(&t)
	result := &TransitionResult{Changes: changes, Deliveries: deliveries}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		order, err := s.orders.compareAndSetStatus(ctx, tx, &t, t.To())
		if err != nil {
			return err
		}
		result.Order = order

		if t.Insert != nil {
			if err := s.transactions.create(ctx, tx, t.Insert); err != nil {
				return err
			}
		}
		if t.ConfirmSlate {
			if err := s.transactions.markConfirmed(ctx, tx, t.SlateID, t.At); err != nil {
				return err
			}
		}
		if t.CancelSlate {
			if err := s.transactions.markCancelled(ctx, tx, t.SlateID, t.At); err != nil {
				return err
			}
		}

		for _, c := range changes {
			if err := s.changes.append(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, d := range deliveries {
			if err := s.deliveries.create(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetTransaction возвращает транзакцию по слейту
func (s *PostgresStore) GetTransaction(ctx context.Context, slateID string) (*models.Transaction, error) {
	return s.transactions.GetBySlateID(ctx, slateID)
}

// GetTransactionsByOrder возвращает транзакции заказа
func (s *PostgresStore) GetTransactionsByOrder(ctx context.Context, key models.OrderKey) ([]*models.Transaction, error) {
	return s.transactions.GetByOrder(ctx, key)
}

// ListActiveTransactions возвращает транзакции, ожидающие подтверждений
func (s *PostgresStore) ListActiveTransactions(ctx context.Context) ([]*models.Transaction, error) {
	return s.transactions.GetActive(ctx)
}

// ListExpirable возвращает заказы для истечения
func (s *PostgresStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return s.orders.GetExpirable(ctx, now, limit)
}

// GetStatusHistory возвращает журнал статусов заказа
func (s *PostgresStore) GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error) {
	return s.changes.GetByOrder(ctx, key)
}

// ClaimDueDeliveries забирает доставки, срок которых наступил
func (s *PostgresStore) ClaimDueDeliveries(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.CallbackDelivery, error) {
	return s.deliveries.ClaimDue(ctx, now, leaseUntil, limit)
}

// MarkDelivered отмечает успешную доставку
func (s *PostgresStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.deliveries.MarkDelivered(ctx, id, at)
}

// MarkAttemptFailed записывает неудачную попытку доставки
func (s *PostgresStore) MarkAttemptFailed(ctx context.Context, id, lastError string, next time.Time, final bool) error {
	return s.deliveries.MarkAttemptFailed(ctx, id, lastError, next, final)
}

// GetDeliveriesByOrder возвращает доставки заказа
func (s *PostgresStore) GetDeliveriesByOrder(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error) {
	return s.deliveries.GetByOrder(ctx, key)
}

// ListFailedDeliveries возвращает доставки, исчерпавшие попытки
func (s *PostgresStore) ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error) {
	return s.deliveries.GetFailed(ctx, limit)
}

// GetRate возвращает курс валюты
func (s *PostgresStore) GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error) {
	return s.rates.Get(ctx, currency)
}

// SetRate обновляет курс валюты
func (s *PostgresStore) SetRate(ctx context.Context, currency models.Currency, rate decimal.Decimal, at time.Time) error {
	return s.rates.Upsert(ctx, currency, rate, at)
}
