package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"grinpay/internal/clock"
	"grinpay/internal/models"
	"grinpay/internal/repository"
)

// RateProviderConfig - параметры кеша курсов
type RateProviderConfig struct {
	// MaxAge - курс старше этого считается недоступным (0 - без проверки)
	MaxAge time.Duration

	// CacheTTL - сколько держать снимок курса в памяти до повторного чтения из БД
	CacheTTL time.Duration

	// CacheSize - максимум валют в кеше
	CacheSize int
}

// DefaultRateProviderConfig возвращает параметры по умолчанию
func DefaultRateProviderConfig() RateProviderConfig {
	return RateProviderConfig{
		MaxAge:    15 * time.Minute,
		CacheTTL:  10 * time.Second,
		CacheSize: 16,
	}
}

type cachedRate struct {
	rate      models.Rate
	fetchedAt time.Time
}

// RateProvider отдает снимок курса из таблицы rates с коротким LRU кешем.
// Курсы заполняются внешним процессом, шлюз их только читает.
type RateProvider struct {
	source RateSource
	cache  *lru.Cache
	clock  clock.Clock
	cfg    RateProviderConfig
}

// NewRateProvider создает провайдер курсов
func NewRateProvider(source RateSource, clk clock.Clock, cfg RateProviderConfig) (*RateProvider, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultRateProviderConfig().CacheSize
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("rate cache: %w", err)
	}
	return &RateProvider{source: source, cache: cache, clock: clk, cfg: cfg}, nil
}

// GetRate возвращает курс валюты к GRIN.
// Отсутствующий или устаревший курс - ErrRateUnavailable.
func (p *RateProvider) GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error) {
	now := p.clock.Now()

	if v, ok := p.cache.Get(currency); ok {
		entry := v.(cachedRate)
		if p.cfg.CacheTTL > 0 && now.Sub(entry.fetchedAt) < p.cfg.CacheTTL {
			return p.checkAge(&entry.rate, now)
		}
	}

	rate, err := p.source.GetRate(ctx, currency)
	if err != nil {
		if errors.Is(err, repository.ErrRateNotFound) {
			return nil, fmt.Errorf("%w: no rate for %s", ErrRateUnavailable, currency)
		}
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	p.cache.Add(currency, cachedRate{rate: *rate, fetchedAt: now})
	return p.checkAge(rate, now)
}

// Invalidate сбрасывает кеш (после ручного обновления курса)
func (p *RateProvider) Invalidate() {
	p.cache.Purge()
}

func (p *RateProvider) checkAge(rate *models.Rate, now time.Time) (*models.Rate, error) {
	if p.cfg.MaxAge > 0 && now.Sub(rate.UpdatedAt) > p.cfg.MaxAge {
		return nil, fmt.Errorf("%w: %s rate is stale (updated %s)",
			ErrRateUnavailable, rate.Currency, rate.UpdatedAt.Format(time.RFC3339))
	}
	r := *rate
	return &r, nil
}
