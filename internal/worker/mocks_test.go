package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"grinpay/internal/clock"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/internal/service"
	"grinpay/internal/wallet"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============ Mock DepthSource ============

type MockDepth struct {
	mu       sync.Mutex
	statuses map[string]*wallet.TxStatus
	err      error
	calls    int
}

func NewMockDepth() *MockDepth {
	return &MockDepth{statuses: make(map[string]*wallet.TxStatus)}
}

func (m *MockDepth) TxStatus(ctx context.Context, slateID string) (*wallet.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if st, ok := m.statuses[slateID]; ok {
		c := *st
		return &c, nil
	}
	return &wallet.TxStatus{}, nil
}

func (m *MockDepth) Set(slateID string, confirmations int64) {
	m.mu.Lock()
	m.statuses[slateID] = &wallet.TxStatus{Confirmations: confirmations}
	m.mu.Unlock()
}

func (m *MockDepth) SetCancelled(slateID string) {
	m.mu.Lock()
	m.statuses[slateID] = &wallet.TxStatus{Cancelled: true}
	m.mu.Unlock()
}

func (m *MockDepth) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockDepth) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ============ Mock Sender ============

type sentWebhook struct {
	URL     string
	Token   string
	Payload models.WebhookPayload
}

type MockSender struct {
	mu       sync.Mutex
	failNext int
	err      error
	sent     []sentWebhook
}

func (m *MockSender) Send(ctx context.Context, url, token string, payload models.WebhookPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, sentWebhook{URL: url, Token: token, Payload: payload})
	if m.err != nil {
		return m.err
	}
	if m.failNext > 0 {
		m.failNext--
		return &WebhookError{StatusCode: 503}
	}
	return nil
}

func (m *MockSender) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

func (m *MockSender) FailAlways(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockSender) Sent() []sentWebhook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentWebhook(nil), m.sent...)
}

// ============ Окружение ============

type testEnv struct {
	store     *repository.MemoryStore
	lifecycle *service.Lifecycle
	clock     *clock.Manual
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	return &testEnv{
		store:     store,
		lifecycle: service.NewLifecycle(store),
		clock:     clock.NewManual(testStart),
	}
}

// createOrder создает UNPAID заказ со сроком testStart+ttl
func (e *testEnv) createOrder(t *testing.T, orderID string, ttl time.Duration) *models.Order {
	t.Helper()
	now := e.clock.Now()
	o := &models.Order{
		MerchantID:            "shop",
		OrderID:               orderID,
		FiatAmount:            1000,
		FiatCurrency:          models.CurrencyUSD,
		GrinAmount:            4_000_000_000,
		ConfirmationsRequired: 10,
		CallbackURL:           "https://shop.example/callback",
		Status:                models.OrderStatusUnpaid,
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.Add(ttl),
	}
	if _, err := e.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

// receive переводит заказ в RECEIVED с активной транзакцией slateID
func (e *testEnv) receive(t *testing.T, o *models.Order, slateID string) {
	t.Helper()
	now := e.clock.Now()
	_, err := e.store.Transition(context.Background(), repository.Transition{
		Key:     o.Key(),
		From:    models.OrderStatusUnpaid,
		Steps:   []models.OrderStatus{models.OrderStatusReceived},
		SlateID: slateID,
		Insert: &models.Transaction{
			SlateID:    slateID,
			MerchantID: o.MerchantID,
			OrderID:    o.OrderID,
			Amount:     o.GrinAmount,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		At: now,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
}

func (e *testEnv) status(t *testing.T, key models.OrderKey) models.OrderStatus {
	t.Helper()
	o, err := e.store.GetOrder(context.Background(), key)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return o.Status
}

func (e *testEnv) history(t *testing.T, key models.OrderKey) []models.OrderStatus {
	t.Helper()
	changes, err := e.store.GetStatusHistory(context.Background(), key)
	if err != nil {
		t.Fatalf("GetStatusHistory: %v", err)
	}
	out := make([]models.OrderStatus, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Status)
	}
	return out
}

func (e *testEnv) deliveries(t *testing.T, key models.OrderKey) []*models.CallbackDelivery {
	t.Helper()
	d, err := e.store.GetDeliveriesByOrder(context.Background(), key)
	if err != nil {
		t.Fatalf("GetDeliveriesByOrder: %v", err)
	}
	return d
}

func equalStatuses(a, b []models.OrderStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
