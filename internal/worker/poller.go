package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grinpay/internal/clock"
	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/pkg/retry"
	"grinpay/pkg/utils"
)

// PollerConfig - параметры опроса подтверждений
type PollerConfig struct {
	// Workers - сколько транзакций проверяется параллельно
	Workers int

	// BackoffInitial / BackoffMax - пауза для слейта после ошибки кошелька
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// QueryTimeout - таймаут одного запроса глубины
	QueryTimeout time.Duration

	// ConfirmTimeout - сколько транзакция может ждать подтверждений
	// с момента приема. По истечении заказ отклоняется. 0 - без ограничения.
	ConfirmTimeout time.Duration
}

// DefaultPollerConfig возвращает параметры по умолчанию
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Workers:        4,
		BackoffInitial: 5 * time.Second,
		BackoffMax:     5 * time.Minute,
		QueryTimeout:   10 * time.Second,
	}
}

// slateBackoff - состояние повторов для одного слейта
type slateBackoff struct {
	failures int
	nextAt   time.Time
}

// Poller продвигает заказы RECEIVED к CONFIRMED.
//
// На каждом проходе для каждой активной транзакции запрашивается глубина.
// Ошибка кошелька откладывает слейт (экспоненциально, с потолком) и ничего не меняет.
// Достаточная глубина подтверждает транзакцию и заказ одним переходом.
// Транзакция, не набравшая глубину за ConfirmTimeout, отменяется вместе с заказом,
// даже если кошелек недоступен.
type Poller struct {
	store     PollStore
	backend   DepthSource
	lifecycle Transitioner
	clock     clock.Clock
	cfg       PollerConfig
	backoff   retry.Config

	mu       sync.Mutex
	backoffs map[string]*slateBackoff

	log *utils.Logger
}

// NewPoller создает опрос подтверждений
func NewPoller(store PollStore, backend DepthSource, lifecycle Transitioner, clk clock.Clock, cfg PollerConfig) *Poller {
	def := DefaultPollerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &Poller{
		store:     store,
		backend:   backend,
		lifecycle: lifecycle,
		clock:     clk,
		cfg:       cfg,
		backoff:   retry.BackoffConfig(cfg.BackoffInitial, cfg.BackoffMax),
		backoffs:  make(map[string]*slateBackoff),
		log:       utils.L().WithComponent("poller"),
	}
}

// Name - имя задачи
func (p *Poller) Name() string { return "poller" }

// RunCycle проверяет все активные транзакции
func (p *Poller) RunCycle(ctx context.Context) error {
	txs, err := p.store.ListActiveTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list active transactions: %w", err)
	}
	metrics.ActiveTransactions.Set(float64(len(txs)))
	p.forgetInactive(txs)

	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup

	for _, tx := range txs {
		if ctx.Err() != nil {
			break
		}
		if !p.overdue(tx) && p.deferred(tx.SlateID) {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(tx *models.Transaction) {
			defer func() {
				<-sem
				wg.Done()
			}()
			p.check(ctx, tx)
		}(tx)
	}

	wg.Wait()
	return nil
}

// check проверяет одну транзакцию
func (p *Poller) check(ctx context.Context, tx *models.Transaction) {
	log := p.log.WithOrder(tx.MerchantID, tx.OrderID).WithSlate(tx.SlateID)

	order, err := p.store.GetOrder(ctx, tx.OrderKey())
	if err != nil {
		log.Error("failed to load order", utils.Err(err))
		return
	}
	if order.Status != models.OrderStatusReceived {
		// Заказ уже ушел из RECEIVED (ручное вмешательство или гонка)
		log.Debug("order is not RECEIVED, skipping", utils.Status(string(order.Status)))
		return
	}

	if p.overdue(tx) {
		log.Warn("transaction not confirmed in time, rejecting",
			utils.Time("received_at", tx.CreatedAt),
			utils.Dur("confirm_timeout", p.cfg.ConfirmTimeout))
		metrics.ConfirmTimeouts.Inc()
		p.apply(ctx, log, tx, models.OrderStatusRejected)
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	st, err := p.backend.TxStatus(queryCtx, tx.SlateID)
	cancel()
	if err != nil {
		delay := p.recordFailure(tx.SlateID)
		log.Warn("confirmation query failed", utils.Err(err), utils.Dur("retry_in", delay))
		return
	}
	p.recordSuccess(tx.SlateID)

	switch {
	case st.Cancelled:
		log.Warn("wallet reports transaction cancelled")
		p.apply(ctx, log, tx, models.OrderStatusRejected)

	case st.Confirmations >= int64(order.ConfirmationsRequired):
		log.Info("transaction confirmed",
			utils.Confirmations(st.Confirmations),
			utils.Int("required", order.ConfirmationsRequired))
		p.apply(ctx, log, tx, models.OrderStatusConfirmed)

	default:
		log.Debug("waiting for confirmations",
			utils.Confirmations(st.Confirmations),
			utils.Int("required", order.ConfirmationsRequired))
	}
}

// apply выполняет переход RECEIVED → to.
// Проигранный CAS - не ошибка: переход уже сделал другой проход или экземпляр.
func (p *Poller) apply(ctx context.Context, log *utils.Logger, tx *models.Transaction, to models.OrderStatus) {
	t := repository.Transition{
		Key:     tx.OrderKey(),
		From:    models.OrderStatusReceived,
		Steps:   []models.OrderStatus{to},
		SlateID: tx.SlateID,
		At:      p.clock.Now(),
	}
	if to == models.OrderStatusConfirmed {
		t.ConfirmSlate = true
	} else {
		t.CancelSlate = true
	}

	_, err := p.lifecycle.Apply(ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusConflict), errors.Is(err, repository.ErrTransactionNotFound):
		log.Debug("transition already applied elsewhere", utils.Status(string(to)))
	default:
		log.Error("failed to apply transition", utils.Status(string(to)), utils.Err(err))
	}
}

// overdue - срок ожидания подтверждений истек
func (p *Poller) overdue(tx *models.Transaction) bool {
	if p.cfg.ConfirmTimeout <= 0 {
		return false
	}
	return !p.clock.Now().Before(tx.CreatedAt.Add(p.cfg.ConfirmTimeout))
}

// ============ Backoff по слейтам ============

func (p *Poller) deferred(slateID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.backoffs[slateID]
	return ok && p.clock.Now().Before(b.nextAt)
}

func (p *Poller) recordFailure(slateID string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.backoffs[slateID]
	if !ok {
		b = &slateBackoff{}
		p.backoffs[slateID] = b
	}
	delay := p.backoff.Delay(b.failures)
	b.failures++
	b.nextAt = p.clock.Now().Add(delay)
	return delay
}

func (p *Poller) recordSuccess(slateID string) {
	p.mu.Lock()
	delete(p.backoffs, slateID)
	p.mu.Unlock()
}

// forgetInactive удаляет состояние слейтов, которые больше не активны
func (p *Poller) forgetInactive(active []*models.Transaction) {
	keep := make(map[string]struct{}, len(active))
	for _, tx := range active {
		keep[tx.SlateID] = struct{}{}
	}

	p.mu.Lock()
	for id := range p.backoffs {
		if _, ok := keep[id]; !ok {
			delete(p.backoffs, id)
		}
	}
	p.mu.Unlock()
}
