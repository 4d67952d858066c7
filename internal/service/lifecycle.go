package service

import (
	"context"
	"errors"
	"sync"

	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/pkg/utils"
)

// Lifecycle выполняет переходы статусов заказа через хранилище
// и оповещает слушателей (live feed, email, диспетчер callback) о записанных изменениях.
//
// Через него проходят все переходы: прием слейта, опрос подтверждений, истечение.
type Lifecycle struct {
	store Store

	listeners []ChangeListener
	mu        sync.RWMutex

	log *utils.Logger
}

// NewLifecycle создает Lifecycle
func NewLifecycle(store Store, listeners ...ChangeListener) *Lifecycle {
	return &Lifecycle{
		store:     store,
		listeners: listeners,
		log:       utils.L().WithComponent("lifecycle"),
	}
}

// AddListener подписывает слушателя на переходы
func (l *Lifecycle) AddListener(listener ChangeListener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, listener)
	l.mu.Unlock()
}

// Apply выполняет переход. Ошибки хранилища возвращаются как есть
// (repository.ErrStatusConflict и т.д.), вызывающий решает что с ними делать.
func (l *Lifecycle) Apply(ctx context.Context, t repository.Transition) (*repository.TransitionResult, error) {
	result, err := l.store.Transition(ctx, t)
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			l.log.Error("status transition failed",
				utils.MerchantID(t.Key.MerchantID),
				utils.OrderID(t.Key.OrderID),
				utils.Status(string(t.To())),
				utils.Err(err))
		}
		return nil, err
	}

	for _, change := range result.Changes {
		metrics.RecordTransition(string(change.Status))
		l.log.Info("order status changed",
			utils.MerchantID(change.MerchantID),
			utils.OrderID(change.OrderID),
			utils.String("from", string(t.From)),
			utils.Status(string(change.Status)))
	}
	l.publish(result.Order, result.Changes...)
	return result, nil
}

// publish оповещает слушателей
func (l *Lifecycle) publish(order *models.Order, changes ...*models.StatusChange) {
	l.mu.RLock()
	listeners := make([]ChangeListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.RUnlock()

	for _, change := range changes {
		for _, listener := range listeners {
			listener.OnStatusChange(order, change)
		}
	}
}
