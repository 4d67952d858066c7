package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grinpay/internal/models"
)

// ErrDeliveryNotFound - доставки нет или она уже не в состоянии PENDING
var ErrDeliveryNotFound = errors.New("callback delivery not found")

const deliveryColumns = `id, merchant_id, order_id, status, occurred_at, state, attempts,
		next_attempt_at, last_error, delivered_at, created_at`

// DeliveryRepository - outbox таблица callback_deliveries
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создает новый экземпляр репозитория
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// create ставит доставку в очередь. Вызывается в транзакции перехода статуса.
func (r *DeliveryRepository) create(ctx context.Context, q querier, d *models.CallbackDelivery) error {
	query := `
		INSERT INTO callback_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := q.ExecContext(ctx, query,
		d.ID,
		d.MerchantID,
		d.OrderID,
		string(d.Status),
		d.OccurredAt,
		string(d.State),
		d.Attempts,
		d.NextAttemptAt,
		d.LastError,
		d.DeliveredAt,
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert callback delivery: %w", err)
	}
	return nil
}

// ClaimDue забирает до limit доставок, срок которых наступил.
//
// Забранные строки сдвигаются на leaseUntil, поэтому другой диспетчер
// не возьмет их, пока текущая попытка не закончится. Если процесс упал,
// доставка снова станет доступна после истечения аренды.
func (r *DeliveryRepository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.CallbackDelivery, error) {
	query := `
		UPDATE callback_deliveries
		SET next_attempt_at = $1
		WHERE id IN (
			SELECT id FROM callback_deliveries
			WHERE state = $2 AND next_attempt_at <= $3
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	return r.list(ctx, query, leaseUntil, string(models.DeliveryPending), now, limit)
}

// MarkDelivered отмечает успешную доставку
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE callback_deliveries
		SET state = $1, attempts = attempts + 1, delivered_at = $2, last_error = ''
		WHERE id = $3 AND state = $4`

	return r.update(ctx, query, string(models.DeliveryDelivered), at, id, string(models.DeliveryPending))
}

// MarkAttemptFailed записывает неудачную попытку.
// final переводит доставку в FAILED, иначе она ждет next.
func (r *DeliveryRepository) MarkAttemptFailed(ctx context.Context, id, lastError string, next time.Time, final bool) error {
	state := models.DeliveryPending
	if final {
		state = models.DeliveryFailed
	}

	query := `
		UPDATE callback_deliveries
		SET state = $1, attempts = attempts + 1, next_attempt_at = $2, last_error = $3
		WHERE id = $4 AND state = $5`

	return r.update(ctx, query, string(state), next, lastError, id, string(models.DeliveryPending))
}

func (r *DeliveryRepository) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update callback delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// GetByOrder возвращает все доставки заказа
func (r *DeliveryRepository) GetByOrder(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM callback_deliveries
		WHERE merchant_id = $1 AND order_id = $2
		ORDER BY created_at`

	return r.list(ctx, query, key.MerchantID, key.OrderID)
}

// GetFailed возвращает доставки, исчерпавшие попытки
func (r *DeliveryRepository) GetFailed(ctx context.Context, limit int) ([]*models.CallbackDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM callback_deliveries
		WHERE state = $1
		ORDER BY created_at DESC
		LIMIT $2`

	return r.list(ctx, query, string(models.DeliveryFailed), limit)
}

func (r *DeliveryRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.CallbackDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*models.CallbackDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return deliveries, nil
}

func scanDelivery(s scanner) (*models.CallbackDelivery, error) {
	var (
		d      models.CallbackDelivery
		status string
		state  string
	)
	err := s.Scan(
		&d.ID,
		&d.MerchantID,
		&d.OrderID,
		&status,
		&d.OccurredAt,
		&state,
		&d.Attempts,
		&d.NextAttemptAt,
		&d.LastError,
		&d.DeliveredAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.State = models.DeliveryState(state)
	if d.Status, err = models.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	return &d, nil
}
