package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"grinpay/internal/models"
)

// Ошибки репозитория транзакций
var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("transaction already exists or order has an active transaction")
)

const transactionColumns = `slate_id, merchant_id, order_id, amount, fee, messages,
		num_inputs, num_outputs, tx_type, confirmed, confirmed_at, cancelled_at,
		created_at, updated_at`

// TransactionRepository - работа с таблицей transactions
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository создает новый экземпляр репозитория
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// create вставляет транзакцию. Повтор slate_id или вторая активная
// транзакция для заказа отбиваются уникальными индексами.
func (r *TransactionRepository) create(ctx context.Context, q querier, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	messages := tx.Messages
	if messages == nil {
		messages = []string{}
	}

	_, err := q.ExecContext(ctx, query,
		tx.SlateID,
		tx.MerchantID,
		tx.OrderID,
		tx.Amount,
		tx.Fee,
		pq.Array(messages),
		tx.NumInputs,
		tx.NumOutputs,
		tx.TxType,
		tx.Confirmed,
		tx.ConfirmedAt,
		tx.CancelledAt,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		if isForeignKeyViolation(err) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// markConfirmed отмечает активную транзакцию подтвержденной
func (r *TransactionRepository) markConfirmed(ctx context.Context, q querier, slateID string, at time.Time) error {
	query := `
		UPDATE transactions
		SET confirmed = TRUE, confirmed_at = $1, updated_at = $1
		WHERE slate_id = $2 AND confirmed = FALSE AND cancelled_at IS NULL`

	return r.updateActive(ctx, q, query, at, slateID)
}

// markCancelled отмечает активную транзакцию отмененной кошельком
func (r *TransactionRepository) markCancelled(ctx context.Context, q querier, slateID string, at time.Time) error {
	query := `
		UPDATE transactions
		SET cancelled_at = $1, updated_at = $1
		WHERE slate_id = $2 AND confirmed = FALSE AND cancelled_at IS NULL`

	return r.updateActive(ctx, q, query, at, slateID)
}

func (r *TransactionRepository) updateActive(ctx context.Context, q querier, query string, at time.Time, slateID string) error {
	result, err := q.ExecContext(ctx, query, at, slateID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// GetBySlateID возвращает транзакцию по идентификатору слейта
func (r *TransactionRepository) GetBySlateID(ctx context.Context, slateID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE slate_id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, slateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// GetByOrder возвращает все транзакции заказа в порядке создания
func (r *TransactionRepository) GetByOrder(ctx context.Context, key models.OrderKey) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE merchant_id = $1 AND order_id = $2
		ORDER BY created_at`

	return r.list(ctx, query, key.MerchantID, key.OrderID)
}

// GetActive возвращает транзакции, ожидающие подтверждений
func (r *TransactionRepository) GetActive(ctx context.Context) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE confirmed = FALSE AND cancelled_at IS NULL
		ORDER BY created_at`

	return r.list(ctx, query)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}

func scanTransaction(s scanner) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.Scan(
		&tx.SlateID,
		&tx.MerchantID,
		&tx.OrderID,
		&tx.Amount,
		&tx.Fee,
		pq.Array(&tx.Messages),
		&tx.NumInputs,
		&tx.NumOutputs,
		&tx.TxType,
		&tx.Confirmed,
		&tx.ConfirmedAt,
		&tx.CancelledAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
