package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"grinpay/internal/models"
)

func TestTransitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		tr      Transition
		wantErr bool
	}{
		{
			name: "unpaid to received",
			tr: Transition{
				From:    models.OrderStatusUnpaid,
				Steps:   []models.OrderStatus{models.OrderStatusReceived},
				SlateID: "s1",
				Insert:  &models.Transaction{SlateID: "s1"},
			},
		},
		{
			name: "resubmission path",
			tr: Transition{
				From:  models.OrderStatusRejected,
				Steps: []models.OrderStatus{models.OrderStatusUnpaid, models.OrderStatusRejected},
			},
		},
		{
			name: "skip received",
			tr: Transition{
				From:  models.OrderStatusUnpaid,
				Steps: []models.OrderStatus{models.OrderStatusConfirmed},
			},
			wantErr: true,
		},
		{
			name:    "no steps",
			tr:      Transition{From: models.OrderStatusUnpaid},
			wantErr: true,
		},
		{
			name: "confirm without slate",
			tr: Transition{
				From:         models.OrderStatusReceived,
				Steps:        []models.OrderStatus{models.OrderStatusConfirmed},
				ConfirmSlate: true,
			},
			wantErr: true,
		},
		{
			name: "inserted slate mismatch",
			tr: Transition{
				From:    models.OrderStatusUnpaid,
				Steps:   []models.OrderStatus{models.OrderStatusReceived},
				SlateID: "s1",
				Insert:  &models.Transaction{SlateID: "s2"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildRecords(t *testing.T) {
	now := time.Now()
	tr := &Transition{
		Key:     models.OrderKey{MerchantID: "m1", OrderID: "o1"},
		From:    models.OrderStatusRejected,
		Steps:   []models.OrderStatus{models.OrderStatusUnpaid, models.OrderStatusRejected},
		SlateID: "",
		At:      now,
	}

	changes, deliveries := buildRecords(tr)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].ID == changes[1].ID {
		t.Error("change ids must be unique")
	}
	if changes[0].SlateID != nil {
		t.Error("expected nil slate id")
	}

	// Только REJECTED требует callback
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	d := deliveries[0]
	if d.ID != changes[1].ID {
		t.Error("delivery id must match status change id")
	}
	if d.State != models.DeliveryPending || !d.NextAttemptAt.Equal(now) {
		t.Errorf("unexpected delivery %+v", d)
	}
}

func TestPostgresStoreCreateOrder(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO status_changes`).
		WithArgs(sqlmock.AnyArg(), "m1", "o1", sqlmock.AnyArg(), "UNPAID", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	change, err := store.CreateOrder(context.Background(), testOrder(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if change.Status != models.OrderStatusUnpaid || change.ID == "" {
		t.Errorf("unexpected initial change %+v", change)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreCreateOrder_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	if _, err := store.CreateOrder(context.Background(), testOrder(time.Now())); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreTransition_Accept(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE orders SET status = \$1.+ AND claim_slate_id = \$6 RETURNING`).
		WithArgs("RECEIVED", now, "m1", "o1", "UNPAID", "slate-1").
		WillReturnRows(orderRows(now, models.OrderStatusReceived))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO status_changes`).
		WithArgs(sqlmock.AnyArg(), "m1", "o1", sqlmock.AnyArg(), "RECEIVED", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	result, err := store.Transition(context.Background(), Transition{
		Key:          models.OrderKey{MerchantID: "m1", OrderID: "o1"},
		From:         models.OrderStatusUnpaid,
		Steps:        []models.OrderStatus{models.OrderStatusReceived},
		SlateID:      "slate-1",
		ClaimSlateID: "slate-1",
		Insert: &models.Transaction{
			SlateID: "slate-1", MerchantID: "m1", OrderID: "o1",
			Amount: 400_000_000, CreatedAt: now, UpdatedAt: now,
		},
		At: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Order.Status != models.OrderStatusReceived {
		t.Errorf("expected RECEIVED, got %s", result.Order.Status)
	}
	if len(result.Changes) != 1 || len(result.Deliveries) != 0 {
		t.Errorf("expected 1 change and no deliveries, got %d/%d", len(result.Changes), len(result.Deliveries))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreTransition_Confirm(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE orders SET status`).
		WithArgs("CONFIRMED", now, "m1", "o1", "RECEIVED").
		WillReturnRows(orderRows(now, models.OrderStatusConfirmed))
	mock.ExpectExec(`UPDATE transactions SET confirmed = TRUE`).
		WithArgs(now, "slate-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO status_changes`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO callback_deliveries`).
		WithArgs(sqlmock.AnyArg(), "m1", "o1", "CONFIRMED", now, "PENDING", 0, now, "", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	result, err := store.Transition(context.Background(), Transition{
		Key:          models.OrderKey{MerchantID: "m1", OrderID: "o1"},
		From:         models.OrderStatusReceived,
		Steps:        []models.OrderStatus{models.OrderStatusConfirmed},
		SlateID:      "slate-1",
		ConfirmSlate: true,
		At:           now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Deliveries) != 1 || result.Deliveries[0].ID != result.Changes[0].ID {
		t.Errorf("expected one delivery keyed by the status change, got %+v", result.Deliveries)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreTransition_Conflict(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE orders SET status`).
		WillReturnRows(sqlmock.NewRows(orderColumnNames))
	mock.ExpectQuery(`SELECT .+ FROM orders`).
		WithArgs("m1", "o1").
		WillReturnRows(orderRows(now, models.OrderStatusConfirmed))
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	_, err = store.Transition(context.Background(), Transition{
		Key:                models.OrderKey{MerchantID: "m1", OrderID: "o1"},
		From:               models.OrderStatusUnpaid,
		Steps:              []models.OrderStatus{models.OrderStatusExpired},
		RequireNoLiveClaim: true,
		At:                 now,
	})
	if !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreTransition_DuplicateActiveTransaction(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE orders SET status`).
		WillReturnRows(orderRows(now, models.OrderStatusReceived))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	_, err = store.Transition(context.Background(), Transition{
		Key:     models.OrderKey{MerchantID: "m1", OrderID: "o1"},
		From:    models.OrderStatusUnpaid,
		Steps:   []models.OrderStatus{models.OrderStatusReceived},
		SlateID: "slate-2",
		Insert:  &models.Transaction{SlateID: "slate-2", MerchantID: "m1", OrderID: "o1"},
		At:      now,
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("expected ErrDuplicateTransaction, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStoreTransition_InvalidPathSkipsDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	_, err = store.Transition(context.Background(), Transition{
		From:  models.OrderStatusConfirmed,
		Steps: []models.OrderStatus{models.OrderStatusUnpaid},
		At:    time.Now(),
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
