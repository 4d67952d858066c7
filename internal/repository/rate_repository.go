package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grinpay/internal/models"
)

// ErrRateNotFound - курс для валюты не задан
var ErrRateNotFound = errors.New("rate not found")

// RateRepository - таблица курсов GRIN к фиатным валютам.
// Курсы обновляет внешний процесс, шлюз только читает их.
type RateRepository struct {
	db *sql.DB
}

// NewRateRepository создает новый экземпляр репозитория
func NewRateRepository(db *sql.DB) *RateRepository {
	return &RateRepository{db: db}
}

// Get возвращает курс валюты
func (r *RateRepository) Get(ctx context.Context, currency models.Currency) (*models.Rate, error) {
	query := `SELECT id, rate, updated_at FROM rates WHERE id = $1`

	var (
		rate models.Rate
		id   string
	)
	err := r.db.QueryRowContext(ctx, query, string(currency)).Scan(&id, &rate.Rate, &rate.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, err
	}

	rate.Currency = models.Currency(id)
	return &rate, nil
}

// Upsert создает или обновляет курс
func (r *RateRepository) Upsert(ctx context.Context, currency models.Currency, rate decimal.Decimal, at time.Time) error {
	query := `
		INSERT INTO rates (id, rate, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, string(currency), rate, at); err != nil {
		return fmt.Errorf("upsert rate: %w", err)
	}
	return nil
}
