// Package retry - экспоненциальный backoff с jitter.
//
// Используется двумя способами:
//   - Do / DoWithResult повторяют идемпотентные запросы (чтение из кошелька и ноды)
//   - Config.Delay считает задержку до следующей попытки для фоновых задач,
//     которые сами хранят номер попытки (доставка callback, опрос подтверждений)
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация backoff
//
// delay = min(InitialDelay * Multiplier^attempt ± jitter, MaxDelay)
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую).
	// 0 или отрицательное - без ограничения.
	MaxRetries int

	// InitialDelay - задержка после первой неудачи
	InitialDelay time.Duration

	// MaxDelay - верхняя граница задержки (с учетом jitter)
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	Multiplier float64

	// JitterFactor - доля случайной вариации (0.0 - 1.0)
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. По умолчанию IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - 4 попытки, 100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// WalletQueryConfig - чтение из кошелька и ноды.
// Короткие задержки: опрос и так повторится на следующем цикле.
func WalletQueryConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		RetryIf:      RetryIfNotContext,
	}
}

// BackoffConfig - задержки между попытками фоновой задачи
//
//	cfg := retry.BackoffConfig(5*time.Second, 10*time.Minute)
//	next := now.Add(cfg.Delay(attempts))
func BackoffConfig(initial, max time.Duration) Config {
	return Config{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// Delay возвращает задержку после неудачной попытки attempt (с нуля).
// Результат всегда в пределах [0, MaxDelay].
func (c Config) Delay(attempt int) time.Duration {
	c.validate()
	return c.calculateDelay(attempt)
}

// calculateDelay вычисляет задержку для указанной попытки
func (c *Config) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками.
// Возвращает nil при успехе или последнюю ошибку.
//
//	err := retry.Do(ctx, func() error {
//	    return client.ping(ctx)
//	}, retry.WalletQueryConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	height, err := retry.DoWithResult(ctx, func() (uint64, error) {
//	    return node.TipHeight(ctx)
//	}, retry.WalletQueryConfig())
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var (
		lastErr error
		zero    T
	)

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		// Проверяем контекст перед каждой попыткой
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}

		// Последняя попытка - не ждём
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, знающая можно ли ее повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли retry'ить ошибку
//
// false для nil, отмены контекста и ошибок с Retryable() == false.
// Остальные ошибки считаются временными.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return RetryIfNotContext(err)
}

// RetryIfNotContext не retry'ит ошибки контекста (cancel, timeout)
func RetryIfNotContext(err error) bool {
	var retryable RetryableError
	if errors.As(err, &retryable) && !retryable.Retryable() {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func (e *PermanentError) Retryable() bool {
	return false
}

// Permanent оборачивает ошибку в PermanentError (например, ответ 4xx)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
