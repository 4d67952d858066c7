// Package worker - фоновые задачи шлюза: опрос подтверждений,
// истечение заказов и доставка callback мерчантам.
package worker

import (
	"context"
	"sync"
	"time"

	"grinpay/internal/metrics"
	"grinpay/pkg/utils"
)

// Task - одна фоновая задача.
// RunCycle выполняет один проход и должен целиком завершиться
// (или ничего не изменить) до возврата.
type Task interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// Scheduler запускает задачу с заданным интервалом.
//
// Цикл:
// - по таймеру (Interval) или по сигналу Wake
// - каждый проход ограничен CycleTimeout
// - после отмены контекста новые проходы не начинаются,
//   текущий доводится до конца (или до своего таймаута)
type Scheduler struct {
	task         Task
	interval     time.Duration
	cycleTimeout time.Duration

	wake chan struct{}
	done chan struct{}
	once sync.Once

	log *utils.Logger
}

// NewScheduler создает планировщик задачи
func NewScheduler(task Task, interval, cycleTimeout time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * interval
	}
	return &Scheduler{
		task:         task,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		log:          utils.L().WithComponent(task.Name()),
	}
}

// Run выполняет задачу до отмены ctx.
// Первый проход - сразу после старта.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })

	s.log.Info("task started", utils.Dur("interval", s.interval))
	defer s.log.Info("task stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// Проход не прерывается отменой ctx, у него свой таймаут
		s.runCycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}

		// Отмена могла прийти одновременно с таймером
		if ctx.Err() != nil {
			return
		}
	}
}

// Wake запускает проход вне расписания. Не блокируется.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done закрывается после выхода из Run
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) runCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	start := time.Now()
	err := s.safeCycle(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000

	metrics.RecordTaskCycle(s.task.Name(), err, latency)
	if err != nil {
		s.log.Error("task cycle failed", utils.Err(err), utils.Latency(latency))
	}
}

// safeCycle не дает панике в задаче уронить процесс
func (s *Scheduler) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task cycle panicked", utils.Any("panic", r))
			err = errPanic
		}
	}()
	return s.task.RunCycle(ctx)
}

// ============ Group ============

// Group - набор планировщиков с общим завершением
type Group struct {
	schedulers []*Scheduler
	wg         sync.WaitGroup
}

// NewGroup создает группу
func NewGroup(schedulers ...*Scheduler) *Group {
	return &Group{schedulers: schedulers}
}

// Start запускает все задачи в отдельных горутинах
func (g *Group) Start(ctx context.Context) {
	for _, s := range g.schedulers {
		g.wg.Add(1)
		go func(s *Scheduler) {
			defer g.wg.Done()
			s.Run(ctx)
		}(s)
	}
}

// Wait ждет завершения всех задач или истечения ctx.
// Возвращает false если задачи не успели остановиться.
func (g *Group) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
