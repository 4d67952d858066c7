package repository

import (
	"context"
	"database/sql"
	"fmt"

	"grinpay/internal/models"
)

// StatusChangeRepository - журнал смены статусов (только добавление)
type StatusChangeRepository struct {
	db *sql.DB
}

// NewStatusChangeRepository создает новый экземпляр репозитория
func NewStatusChangeRepository(db *sql.DB) *StatusChangeRepository {
	return &StatusChangeRepository{db: db}
}

// append добавляет запись в журнал. Обновлять и удалять записи нельзя,
// это дополнительно запрещено триггером в БД.
func (r *StatusChangeRepository) append(ctx context.Context, q querier, c *models.StatusChange) error {
	query := `
		INSERT INTO status_changes (id, merchant_id, order_id, slate_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := q.ExecContext(ctx, query,
		c.ID,
		c.MerchantID,
		c.OrderID,
		c.SlateID,
		string(c.Status),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append status change: %w", err)
	}
	return nil
}

// GetByOrder возвращает историю статусов заказа в порядке записи
func (r *StatusChangeRepository) GetByOrder(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error) {
	query := `
		SELECT id, merchant_id, order_id, slate_id, status, created_at
		FROM status_changes
		WHERE merchant_id = $1 AND order_id = $2
		ORDER BY created_at, seq`

	rows, err := r.db.QueryContext(ctx, query, key.MerchantID, key.OrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*models.StatusChange
	for rows.Next() {
		var (
			c      models.StatusChange
			status string
		)
		if err := rows.Scan(&c.ID, &c.MerchantID, &c.OrderID, &c.SlateID, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		if c.Status, err = models.ParseOrderStatus(status); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return changes, nil
}
