// Package ratelimit - token bucket ограничители частоты запросов.
package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// RateLimiter - Token Bucket rate limiter
//
// - Ведро наполняется токенами со скоростью rate токенов/сек
// - Максимальная ёмкость ведра = burst
// - Каждый запрос потребляет 1 токен
//
// Использование:
//
//	limiter := NewRateLimiter(10, 20) // 10 req/sec, burst 20
//	err := limiter.Wait(ctx)          // блокирующее ожидание
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	mu         sync.Mutex
}

// NewRateLimiter создаёт новый rate limiter (rate req/sec, burst >= rate)
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: time.Now(),
	}
}

// refill пополняет токены на основе прошедшего времени.
// Вызывается под lock'ом.
func (rl *RateLimiter) refill() {
	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		// Время до следующего токена
		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен, если он есть, не блокируя
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens возвращает текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения
func (rl *RateLimiter) Rate() float64 {
	return rl.rate
}

// Burst возвращает ёмкость ведра
func (rl *RateLimiter) Burst() float64 {
	return rl.burst
}

// ============================================================
// KeyedLimiter - отдельное ведро на каждый ключ
// ============================================================

// KeyedLimiter выдает отдельный RateLimiter на ключ (например, хост мерчанта),
// чтобы один медленный получатель не забирал всю пропускную способность.
// Число ведер ограничено: давно не использованные вытесняются (LRU).
type KeyedLimiter struct {
	rate  float64
	burst float64

	buckets *lru.Cache
	mu      sync.Mutex
}

// DefaultMaxKeys - сколько ведер держать в памяти по умолчанию
const DefaultMaxKeys = 4096

// NewKeyedLimiter создаёт ограничитель с одинаковыми rate/burst для всех ключей
func NewKeyedLimiter(rate, burst float64, maxKeys int) *KeyedLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	// lru.New возвращает ошибку только при size <= 0
	cache, _ := lru.New(maxKeys)

	return &KeyedLimiter{
		rate:    rate,
		burst:   burst,
		buckets: cache,
	}
}

// Get возвращает ведро ключа, создавая его при необходимости
func (kl *KeyedLimiter) Get(key string) *RateLimiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if v, ok := kl.buckets.Get(key); ok {
		return v.(*RateLimiter)
	}
	rl := NewRateLimiter(kl.rate, kl.burst)
	kl.buckets.Add(key, rl)
	return rl
}

// Wait ожидает токен для ключа
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.Get(key).Wait(ctx)
}

// Allow проверяет доступность токена для ключа
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.Get(key).Allow()
}

// Len возвращает количество ведер в памяти
func (kl *KeyedLimiter) Len() int {
	return kl.buckets.Len()
}
