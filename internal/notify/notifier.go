// Package notify - email уведомления покупателю о смене статуса заказа.
//
// Доставка шаблонов вне шлюза: здесь только очередь и вызов Mailer.
// Уведомления fire-and-forget, ошибка отправки лишь пишется в лог.
package notify

import (
	"context"
	"sync"
	"time"

	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/pkg/utils"
)

// DefaultQueueSize - сколько уведомлений может ждать отправки
const DefaultQueueSize = 256

// sendTimeout - таймаут одной отправки
const sendTimeout = 15 * time.Second

// Email - уведомление для отправки
type Email struct {
	To         string
	MerchantID string
	OrderID    string
	Status     models.OrderStatus
	Amount     models.Money
	GrinAmount models.Money
	OccurredAt time.Time
}

// Mailer отправляет письмо
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// LogMailer пишет письмо в лог вместо отправки
type LogMailer struct {
	log *utils.Logger
}

// NewLogMailer создает LogMailer
func NewLogMailer() *LogMailer {
	return &LogMailer{log: utils.L().WithComponent("mailer")}
}

// Send логирует письмо
func (m *LogMailer) Send(ctx context.Context, email *Email) error {
	m.log.Info("email notification",
		utils.String("to", email.To),
		utils.MerchantID(email.MerchantID),
		utils.OrderID(email.OrderID),
		utils.Status(string(email.Status)),
		utils.String("amount", email.Amount.String()),
		utils.String("grin_amount", email.GrinAmount.String()))
	return nil
}

// Notifier получает переходы статусов и отправляет письма в отдельной горутине.
// Не блокирует переходы: при переполненной очереди письмо отбрасывается.
type Notifier struct {
	mailer Mailer
	queue  chan *Email

	mu      sync.Mutex
	dropped int

	log *utils.Logger
}

// NewNotifier создает Notifier
func NewNotifier(mailer Mailer, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Notifier{
		mailer: mailer,
		queue:  make(chan *Email, queueSize),
		log:    utils.L().WithComponent("notify"),
	}
}

// OnStatusChange ставит письмо в очередь, если у заказа есть email
func (n *Notifier) OnStatusChange(order *models.Order, change *models.StatusChange) {
	if order == nil || order.Email == nil || *order.Email == "" {
		return
	}

	email := &Email{
		To:         *order.Email,
		MerchantID: change.MerchantID,
		OrderID:    change.OrderID,
		Status:     change.Status,
		Amount:     models.NewMoney(order.FiatAmount, order.FiatCurrency),
		GrinAmount: order.Grins(),
		OccurredAt: change.CreatedAt,
	}

	select {
	case n.queue <- email:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		metrics.RecordEmailDropped()
		n.log.Warn("email queue full, notification dropped",
			utils.MerchantID(change.MerchantID),
			utils.OrderID(change.OrderID),
			utils.Status(string(change.Status)))
	}
}

// Run отправляет письма из очереди до отмены ctx.
// Оставшиеся в очереди письма отправляются перед выходом.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case email := <-n.queue:
			n.send(email)
		case <-ctx.Done():
			n.drain()
			return
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case email := <-n.queue:
			n.send(email)
		default:
			return
		}
	}
}

func (n *Notifier) send(email *Email) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := n.mailer.Send(ctx, email); err != nil {
		n.log.Warn("email notification failed",
			utils.MerchantID(email.MerchantID),
			utils.OrderID(email.OrderID),
			utils.Err(err))
	}
}

// Dropped возвращает число отброшенных писем
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}
