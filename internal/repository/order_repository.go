package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grinpay/internal/models"
)

// Ошибки репозитория заказов
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrClaimHeld      = errors.New("order is claimed by another submission")
)

const orderColumns = `merchant_id, order_id, fiat_amount, fiat_currency, grin_amount, rate,
		confirmations_required, callback_url, callback_token, email, status,
		claim_slate_id, claim_expires_at, created_at, updated_at, expires_at`

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// create вставляет заказ. Повтор (merchant_id, order_id) - ErrDuplicateOrder.
func (r *OrderRepository) create(ctx context.Context, q querier, o *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := q.ExecContext(ctx, query,
		o.MerchantID,
		o.OrderID,
		o.FiatAmount,
		string(o.FiatCurrency),
		o.GrinAmount,
		o.Rate,
		o.ConfirmationsRequired,
		o.CallbackURL,
		o.CallbackToken,
		o.Email,
		string(o.Status),
		o.ClaimSlateID,
		o.ClaimExpiresAt,
		o.CreatedAt,
		o.UpdatedAt,
		o.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByKey возвращает заказ по составному ключу
func (r *OrderRepository) GetByKey(ctx context.Context, key models.OrderKey) (*models.Order, error) {
	return r.getByKey(ctx, r.db, key)
}

func (r *OrderRepository) getByKey(ctx context.Context, q querier, key models.OrderKey) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE merchant_id = $1 AND order_id = $2`

	order, err := scanOrder(q.QueryRowContext(ctx, query, key.MerchantID, key.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// Claim захватывает заказ под отправку слейта.
//
// Захват удается только если статус равен expected и нет живого захвата
// другой отправки. Проигравший получает ErrStatusConflict или ErrClaimHeld
// и не должен обращаться к кошельку.
func (r *OrderRepository) Claim(ctx context.Context, key models.OrderKey, expected models.OrderStatus, slateID string, now, until time.Time) error {
	query := `
		UPDATE orders
		SET claim_slate_id = $1, claim_expires_at = $2
		WHERE merchant_id = $3 AND order_id = $4 AND status = $5
		  AND (claim_expires_at IS NULL OR claim_expires_at <= $6)`

	result, err := r.db.ExecContext(ctx, query, slateID, until, key.MerchantID, key.OrderID, string(expected), now)
	if err != nil {
		return fmt.Errorf("claim order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	// Разбираемся почему захват не удался
	current, err := r.getByKey(ctx, r.db, key)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return ErrStatusConflict
	}
	return ErrClaimHeld
}

// ReleaseClaim снимает захват, если он принадлежит этому слейту
func (r *OrderRepository) ReleaseClaim(ctx context.Context, key models.OrderKey, slateID string) error {
	query := `
		UPDATE orders
		SET claim_slate_id = NULL, claim_expires_at = NULL
		WHERE merchant_id = $1 AND order_id = $2 AND claim_slate_id = $3`

	if _, err := r.db.ExecContext(ctx, query, key.MerchantID, key.OrderID, slateID); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// compareAndSetStatus меняет статус только если текущий равен from.
// Захват слейта при этом всегда снимается.
func (r *OrderRepository) compareAndSetStatus(ctx context.Context, q querier, t *Transition, to models.OrderStatus) (*models.Order, error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2, claim_slate_id = NULL, claim_expires_at = NULL
		WHERE merchant_id = $3 AND order_id = $4 AND status = $5`
	args := []interface{}{string(to), t.At, t.Key.MerchantID, t.Key.OrderID, string(t.From)}

	if t.ClaimSlateID != "" {
		args = append(args, t.ClaimSlateID)
		query += fmt.Sprintf(" AND claim_slate_id = $%d", len(args))
	}
	if t.RequireNoLiveClaim {
		query += " AND (claim_expires_at IS NULL OR claim_expires_at <= $2)"
	}
	query += " RETURNING " + orderColumns

	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	// CAS не прошел: заказа нет или статус уже другой
	if _, err := r.getByKey(ctx, q, t.Key); err != nil {
		return nil, err
	}
	return nil, ErrStatusConflict
}

// GetExpirable возвращает неоплаченные заказы с истекшим сроком и без живого захвата
func (r *OrderRepository) GetExpirable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND expires_at <= $2
		  AND (claim_expires_at IS NULL OR claim_expires_at <= $2)
		ORDER BY expires_at
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(models.OrderStatusUnpaid), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// scanOrder читает строку orders в порядке orderColumns
func scanOrder(s scanner) (*models.Order, error) {
	var (
		order    models.Order
		currency string
		status   string
	)
	err := s.Scan(
		&order.MerchantID,
		&order.OrderID,
		&order.FiatAmount,
		&currency,
		&order.GrinAmount,
		&order.Rate,
		&order.ConfirmationsRequired,
		&order.CallbackURL,
		&order.CallbackToken,
		&order.Email,
		&status,
		&order.ClaimSlateID,
		&order.ClaimExpiresAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	order.FiatCurrency = models.Currency(currency)
	order.Status, err = models.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
