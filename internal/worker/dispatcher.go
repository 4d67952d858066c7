package worker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"grinpay/internal/clock"
	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/internal/service"
	"grinpay/pkg/ratelimit"
	"grinpay/pkg/retry"
	"grinpay/pkg/utils"
)

// DispatcherConfig - параметры доставки callback
type DispatcherConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Timeout - таймаут одного POST запроса
	Timeout time.Duration

	// BatchSize - сколько доставок забирается за проход
	BatchSize int
	Workers   int

	// RatePerHost - запросов в секунду к одному хосту мерчанта
	RatePerHost float64
}

// DefaultDispatcherConfig возвращает параметры по умолчанию
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:    10,
		BackoffInitial: 10 * time.Second,
		BackoffMax:     30 * time.Minute,
		Timeout:        10 * time.Second,
		BatchSize:      100,
		Workers:        8,
		RatePerHost:    5,
	}
}

// leaseMargin - запас аренды сверх таймаута запроса.
// Если процесс упадет посреди доставки, строка вернется в очередь после аренды.
const leaseMargin = 30 * time.Second

// Dispatcher доставляет уведомления о терминальных переходах (at-least-once).
//
// Строки outbox пишутся хранилищем вместе с переходом. Dispatcher забирает
// строки, срок которых наступил, и отправляет POST на callback_url заказа.
// Неудача сдвигает следующую попытку по экспоненте. После MaxAttempts строка
// помечается FAILED и остается видимой оператору, переход заказа не откатывается.
type Dispatcher struct {
	store   DeliveryStore
	sender  Sender
	tokens  TokenSource
	clock   clock.Clock
	cfg     DispatcherConfig
	backoff retry.Config
	limiter *ratelimit.KeyedLimiter

	// wake будит планировщик при новой строке outbox
	wakeMu sync.RWMutex
	wake   func()

	log *utils.Logger
}

// NewDispatcher создает диспетчер callback
func NewDispatcher(store DeliveryStore, sender Sender, tokens TokenSource, clk clock.Clock, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RatePerHost <= 0 {
		cfg.RatePerHost = def.RatePerHost
	}

	return &Dispatcher{
		store:   store,
		sender:  sender,
		tokens:  tokens,
		clock:   clk,
		cfg:     cfg,
		backoff: retry.BackoffConfig(cfg.BackoffInitial, cfg.BackoffMax),
		limiter: ratelimit.NewKeyedLimiter(cfg.RatePerHost, cfg.RatePerHost, 0),
		log:     utils.L().WithComponent("dispatcher"),
	}
}

// Name - имя задачи
func (d *Dispatcher) Name() string { return "dispatcher" }

// SetWake задает функцию пробуждения (обычно Scheduler.Wake)
func (d *Dispatcher) SetWake(wake func()) {
	d.wakeMu.Lock()
	d.wake = wake
	d.wakeMu.Unlock()
}

// OnStatusChange будит диспетчер, если переход требует callback
func (d *Dispatcher) OnStatusChange(order *models.Order, change *models.StatusChange) {
	if models.NeedsCallback(change.Status) {
		d.signal()
	}
}

func (d *Dispatcher) signal() {
	d.wakeMu.RLock()
	wake := d.wake
	d.wakeMu.RUnlock()
	if wake != nil {
		wake()
	}
}

// RunCycle забирает и отправляет доставки, срок которых наступил
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	now := d.clock.Now()
	due, err := d.store.ClaimDueDeliveries(ctx, now, now.Add(d.cfg.Timeout+leaseMargin), d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due deliveries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup
	for _, delivery := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(delivery *models.CallbackDelivery) {
			defer func() {
				<-sem
				wg.Done()
			}()
			d.deliver(ctx, delivery)
		}(delivery)
	}
	wg.Wait()

	// Пачка заполнена целиком - вероятно, есть еще
	if len(due) == d.cfg.BatchSize {
		d.signal()
	}
	return nil
}

// deliver выполняет одну попытку доставки
func (d *Dispatcher) deliver(ctx context.Context, delivery *models.CallbackDelivery) {
	attempt := delivery.Attempts + 1
	log := d.log.WithOrder(delivery.MerchantID, delivery.OrderID).With(
		utils.DeliveryID(delivery.ID),
		utils.Status(string(delivery.Status)),
		utils.Attempt(attempt))

	err := d.send(ctx, delivery)
	now := d.clock.Now()

	if err == nil {
		if markErr := d.store.MarkDelivered(ctx, delivery.ID, now); markErr != nil {
			log.Error("callback delivered but not recorded", utils.Err(markErr))
			return
		}
		metrics.RecordDelivery("delivered")
		log.Info("callback delivered")
		return
	}

	if ctx.Err() != nil {
		// Остановка: строка вернется после аренды, попытку не считаем
		log.Debug("delivery interrupted", utils.Err(err))
		return
	}

	final := attempt >= d.cfg.MaxAttempts
	next := now.Add(d.backoff.Delay(attempt - 1))
	if markErr := d.store.MarkAttemptFailed(ctx, delivery.ID, err.Error(), next, final); markErr != nil {
		log.Error("failed to record delivery attempt", utils.Err(markErr))
		return
	}

	if final {
		metrics.RecordDelivery("failed")
		log.Error("callback delivery exhausted",
			utils.Err(fmt.Errorf("%w: %v", service.ErrDeliveryFailed, err)))
		return
	}
	metrics.RecordDelivery("retry")
	log.Warn("callback delivery failed, will retry", utils.Err(err), utils.Time("next_attempt_at", next))
}

// send отправляет webhook. Payload строится из неизменяемой строки outbox.
func (d *Dispatcher) send(ctx context.Context, delivery *models.CallbackDelivery) error {
	order, err := d.store.GetOrder(ctx, delivery.OrderKey())
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	token, err := d.tokens.CallbackToken(order)
	if err != nil {
		return fmt.Errorf("open callback token: %w", err)
	}

	if err := d.limiter.Wait(ctx, hostOf(order.CallbackURL)); err != nil {
		return err
	}
	return d.sender.Send(ctx, order.CallbackURL, token, delivery.Payload())
}

// hostOf - ключ ограничения частоты для callback_url
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
