package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"grinpay/internal/models"
)

// MemoryStore - хранилище в памяти (STORE_DRIVER=memory и тесты).
// Повторяет семантику PostgresStore: CAS статуса, журнал, outbox.
// Наружу отдаются только копии.
type MemoryStore struct {
	mu sync.Mutex

	orders       map[models.OrderKey]*models.Order
	transactions map[string]*models.Transaction
	txOrder      []string
	changes      map[models.OrderKey][]*models.StatusChange
	deliveries   map[string]*models.CallbackDelivery
	delivOrder   []string
	rates        map[models.Currency]*models.Rate
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[models.OrderKey]*models.Order),
		transactions: make(map[string]*models.Transaction),
		changes:      make(map[models.OrderKey][]*models.StatusChange),
		deliveries:   make(map[string]*models.CallbackDelivery),
		rates:        make(map[models.Currency]*models.Rate),
	}
}

// Ping всегда успешен
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// CreateOrder сохраняет заказ вместе с начальной записью журнала
func (s *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) (*models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := o.Key()
	if _, exists := s.orders[key]; exists {
		return nil, ErrDuplicateOrder
	}

	s.orders[key] = copyOrder(o)
	change := initialChange(o)
	s.changes[key] = append(s.changes[key], change)

	c := *change
	return &c, nil
}

// GetOrder возвращает копию заказа
func (s *MemoryStore) GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

// ClaimOrder захватывает заказ под отправку слейта
func (s *MemoryStore) ClaimOrder(ctx context.Context, key models.OrderKey, expected models.OrderStatus, slateID string, now, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[key]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != expected {
		return ErrStatusConflict
	}
	if o.HasLiveClaim(now) {
		return ErrClaimHeld
	}

	id := slateID
	o.ClaimSlateID = &id
	o.ClaimExpiresAt = &until
	return nil
}

// ReleaseClaim снимает захват, если он принадлежит этому слейту
func (s *MemoryStore) ReleaseClaim(ctx context.Context, key models.OrderKey, slateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[key]
	if !ok {
		return nil
	}
	if o.ClaimSlateID != nil && *o.ClaimSlateID == slateID {
		o.ClaimSlateID = nil
		o.ClaimExpiresAt = nil
	}
	return nil
}

// Transition выполняет переход под одной блокировкой.
// Все проверки делаются до первой мутации, поэтому ошибка ничего не меняет.
func (s *MemoryStore) Transition(ctx context.Context, t Transition) (*TransitionResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[t.Key]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != t.From {
		return nil, ErrStatusConflict
	}
	if t.ClaimSlateID != "" && (o.ClaimSlateID == nil || *o.ClaimSlateID != t.ClaimSlateID) {
		return nil, ErrStatusConflict
	}
	if t.RequireNoLiveClaim && o.HasLiveClaim(t.At) {
		return nil, ErrStatusConflict
	}

	if t.Insert != nil {
		if _, exists := s.transactions[t.Insert.SlateID]; exists {
			return nil, ErrDuplicateTransaction
		}
		if s.hasActiveTransaction(t.Key) {
			return nil, ErrDuplicateTransaction
		}
	}

	var target *models.Transaction
	if t.ConfirmSlate || t.CancelSlate {
		target = s.transactions[t.SlateID]
		if target == nil || !target.IsActive() {
			return nil, ErrTransactionNotFound
		}
	} else if t.SlateID != "" && t.Insert == nil {
		if _, exists := s.transactions[t.SlateID]; !exists {
			return nil, ErrTransactionNotFound
		}
	}

	// Проверки пройдены, применяем изменения
	o.Status = t.To()
	o.UpdatedAt = t.At
	o.ClaimSlateID = nil
	o.ClaimExpiresAt = nil

	if t.Insert != nil {
		tx := copyTransaction(t.Insert)
		s.transactions[tx.SlateID] = tx
		s.txOrder = append(s.txOrder, tx.SlateID)
	}
	if target != nil {
		at := t.At
		if t.ConfirmSlate {
			target.Confirmed = true
			target.ConfirmedAt = &at
		}
		if t.CancelSlate {
			target.CancelledAt = &at
		}
		target.UpdatedAt = at
	}

	changes, deliveries := buildRecords(&t)
	for _, c := range changes {
		stored := *c
		s.changes[t.Key] = append(s.changes[t.Key], &stored)
	}
	for _, d := range deliveries {
		stored := *d
		s.deliveries[d.ID] = &stored
		s.delivOrder = append(s.delivOrder, d.ID)
	}

	return &TransitionResult{
		Order:      copyOrder(o),
		Changes:    changes,
		Deliveries: deliveries,
	}, nil
}

func (s *MemoryStore) hasActiveTransaction(key models.OrderKey) bool {
	for _, tx := range s.transactions {
		if tx.OrderKey() == key && tx.IsActive() {
			return true
		}
	}
	return false
}

// GetTransaction возвращает транзакцию по слейту
func (s *MemoryStore) GetTransaction(ctx context.Context, slateID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[slateID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

// GetTransactionsByOrder возвращает транзакции заказа в порядке создания
func (s *MemoryStore) GetTransactionsByOrder(ctx context.Context, key models.OrderKey) ([]*models.Transaction, error) {
	return s.filterTransactions(func(tx *models.Transaction) bool {
		return tx.OrderKey() == key
	}), nil
}

// ListActiveTransactions возвращает транзакции, ожидающие подтверждений
func (s *MemoryStore) ListActiveTransactions(ctx context.Context) ([]*models.Transaction, error) {
	return s.filterTransactions(func(tx *models.Transaction) bool {
		return tx.IsActive()
	}), nil
}

func (s *MemoryStore) filterTransactions(keep func(*models.Transaction) bool) []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Transaction
	for _, id := range s.txOrder {
		if tx := s.transactions[id]; keep(tx) {
			result = append(result, copyTransaction(tx))
		}
	}
	return result
}

// ListExpirable возвращает неоплаченные заказы с истекшим сроком и без живого захвата
func (s *MemoryStore) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusUnpaid && o.IsExpired(now) && !o.HasLiveClaim(now) {
			result = append(result, copyOrder(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetStatusHistory возвращает журнал статусов заказа в порядке записи
func (s *MemoryStore) GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.changes[key]
	result := make([]*models.StatusChange, 0, len(stored))
	for _, c := range stored {
		copied := *c
		result = append(result, &copied)
	}
	return result, nil
}

// ClaimDueDeliveries забирает доставки, срок которых наступил, и сдвигает их на leaseUntil
func (s *MemoryStore) ClaimDueDeliveries(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.CallbackDelivery
	for _, id := range s.delivOrder {
		d := s.deliveries[id]
		if d.State == models.DeliveryPending && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*models.CallbackDelivery, 0, len(due))
	for _, d := range due {
		d.NextAttemptAt = leaseUntil
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// MarkDelivered отмечает успешную доставку
func (s *MemoryStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok || d.State != models.DeliveryPending {
		return ErrDeliveryNotFound
	}
	d.State = models.DeliveryDelivered
	d.Attempts++
	d.DeliveredAt = &at
	d.LastError = ""
	return nil
}

// MarkAttemptFailed записывает неудачную попытку доставки
func (s *MemoryStore) MarkAttemptFailed(ctx context.Context, id, lastError string, next time.Time, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok || d.State != models.DeliveryPending {
		return ErrDeliveryNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.NextAttemptAt = next
	if final {
		d.State = models.DeliveryFailed
	}
	return nil
}

// GetDeliveriesByOrder возвращает доставки заказа
func (s *MemoryStore) GetDeliveriesByOrder(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.CallbackDelivery
	for _, id := range s.delivOrder {
		if d := s.deliveries[id]; d.OrderKey() == key {
			result = append(result, copyDelivery(d))
		}
	}
	return result, nil
}

// ListFailedDeliveries возвращает доставки в состоянии FAILED, новые первыми
func (s *MemoryStore) ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.CallbackDelivery
	for i := len(s.delivOrder) - 1; i >= 0; i-- {
		d := s.deliveries[s.delivOrder[i]]
		if d.State != models.DeliveryFailed {
			continue
		}
		result = append(result, copyDelivery(d))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// GetRate возвращает курс валюты
func (s *MemoryStore) GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rates[currency]
	if !ok {
		return nil, ErrRateNotFound
	}
	copied := *r
	return &copied, nil
}

// SetRate обновляет курс валюты
func (s *MemoryStore) SetRate(ctx context.Context, currency models.Currency, rate decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rates[currency] = &models.Rate{Currency: currency, Rate: rate, UpdatedAt: at}
	return nil
}

// ============ Копирование ============

func copyOrder(o *models.Order) *models.Order {
	c := *o
	if o.Email != nil {
		email := *o.Email
		c.Email = &email
	}
	if o.ClaimSlateID != nil {
		id := *o.ClaimSlateID
		c.ClaimSlateID = &id
	}
	if o.ClaimExpiresAt != nil {
		until := *o.ClaimExpiresAt
		c.ClaimExpiresAt = &until
	}
	return &c
}

func copyTransaction(tx *models.Transaction) *models.Transaction {
	c := *tx
	c.Messages = append([]string(nil), tx.Messages...)
	if tx.ConfirmedAt != nil {
		at := *tx.ConfirmedAt
		c.ConfirmedAt = &at
	}
	if tx.CancelledAt != nil {
		at := *tx.CancelledAt
		c.CancelledAt = &at
	}
	return &c
}

func copyDelivery(d *models.CallbackDelivery) *models.CallbackDelivery {
	c := *d
	if d.DeliveredAt != nil {
		at := *d.DeliveredAt
		c.DeliveredAt = &at
	}
	return &c
}
