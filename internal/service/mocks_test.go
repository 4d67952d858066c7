package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"grinpay/internal/clock"
	"grinpay/internal/models"
	"grinpay/internal/repository"
	"grinpay/internal/wallet"
	"grinpay/pkg/crypto"
)

// ============ Mock WalletBackend ============

type MockWalletBackend struct {
	mu sync.Mutex

	receiveErr  error
	receiveHook func() // вызывается внутри Receive (для гонок)
	statusErr   error
	statuses    map[string]*wallet.TxStatus

	received []string
}

func NewMockWalletBackend() *MockWalletBackend {
	return &MockWalletBackend{statuses: make(map[string]*wallet.TxStatus)}
}

func (m *MockWalletBackend) Receive(ctx context.Context, slate *models.Slate) (*wallet.Receipt, error) {
	m.mu.Lock()
	m.received = append(m.received, slate.ID)
	hook := m.receiveHook
	err := m.receiveErr
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &wallet.Receipt{
		SlateID:    slate.ID,
		Signed:     []byte(`{"signed":true}`),
		Amount:     slate.Amount,
		Fee:        slate.Fee,
		Messages:   slate.Messages(),
		NumInputs:  1,
		NumOutputs: 1,
		TxType:     wallet.TxTypeReceived,
	}, nil
}

func (m *MockWalletBackend) TxStatus(ctx context.Context, slateID string) (*wallet.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if st, ok := m.statuses[slateID]; ok {
		c := *st
		return &c, nil
	}
	return &wallet.TxStatus{}, nil
}

func (m *MockWalletBackend) SetReceiveErr(err error) {
	m.mu.Lock()
	m.receiveErr = err
	m.mu.Unlock()
}

func (m *MockWalletBackend) SetStatus(slateID string, st *wallet.TxStatus) {
	m.mu.Lock()
	m.statuses[slateID] = st
	m.mu.Unlock()
}

func (m *MockWalletBackend) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// ============ Mock ChangeListener ============

type MockListener struct {
	mu      sync.Mutex
	changes []*models.StatusChange
}

func (m *MockListener) OnStatusChange(order *models.Order, change *models.StatusChange) {
	m.mu.Lock()
	m.changes = append(m.changes, change)
	m.mu.Unlock()
}

func (m *MockListener) Statuses() []models.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderStatus, 0, len(m.changes))
	for _, c := range m.changes {
		out = append(out, c.Status)
	}
	return out
}

// ============ Mock RateSource ============

type MockRateSource struct {
	mu    sync.Mutex
	rates map[models.Currency]*models.Rate
	err   error
	calls int
}

func NewMockRateSource() *MockRateSource {
	return &MockRateSource{rates: make(map[models.Currency]*models.Rate)}
}

func (m *MockRateSource) GetRate(ctx context.Context, currency models.Currency) (*models.Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rates[currency]
	if !ok {
		return nil, repository.ErrRateNotFound
	}
	c := *r
	return &c, nil
}

func (m *MockRateSource) Set(currency models.Currency, rate string, at time.Time) {
	m.mu.Lock()
	m.rates[currency] = &models.Rate{Currency: currency, Rate: decimal.RequireFromString(rate), UpdatedAt: at}
	m.mu.Unlock()
}

func (m *MockRateSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ============ Store с отказом записи ============

// failingTransitionStore - хранилище, в котором переход не записывается
type failingTransitionStore struct {
	*repository.MemoryStore
	err error
}

func (s *failingTransitionStore) Transition(ctx context.Context, t repository.Transition) (*repository.TransitionResult, error) {
	return nil, s.err
}

// ============ Тестовое окружение ============

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testOrderTTL      = 15 * time.Minute
	testSubmitTimeout = time.Second
	testSlateID       = "0436430c-2b02-624c-2032-570501212b00"
	testSlateID2      = "1e2f3a4b-5c6d-4e7f-8091-a2b3c4d5e6f7"
)

type testEnv struct {
	store    *repository.MemoryStore
	clock    *clock.Manual
	backend  *MockWalletBackend
	listener *MockListener
	cipher   *crypto.TokenCipher

	lifecycle *Lifecycle
	orders    *OrderService
	payments  *PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	clk := clock.NewManual(testStart)
	backend := NewMockWalletBackend()
	listener := &MockListener{}

	key, _ := crypto.GenerateKey()
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetRate(context.Background(), models.CurrencyUSD, decimal.RequireFromString("2.5"), testStart); err != nil {
		t.Fatal(err)
	}
	rates, err := NewRateProvider(store, clk, RateProviderConfig{MaxAge: time.Hour, CacheSize: 4})
	if err != nil {
		t.Fatal(err)
	}

	lifecycle := NewLifecycle(store, listener)
	orders := NewOrderService(store, rates, lifecycle, cipher, clk, OrderConfig{OrderTTL: testOrderTTL, MaxConfirmations: 60})
	orders.SetWalletBackend(backend)

	return &testEnv{
		store:     store,
		clock:     clk,
		backend:   backend,
		listener:  listener,
		cipher:    cipher,
		lifecycle: lifecycle,
		orders:    orders,
		payments:  NewPaymentService(store, backend, lifecycle, clk, testSubmitTimeout),
	}
}

func validCreateRequest() *CreateOrderRequest {
	email := "buyer@example.com"
	return &CreateOrderRequest{
		MerchantID:            "m1",
		OrderID:               "o1",
		Amount:                1000, // $10.00
		Currency:              "USD",
		ConfirmationsRequired: 10,
		CallbackURL:           "https://shop.example/callback",
		Email:                 &email,
	}
}

// createOrder создает заказ на 4 GRIN ($10 по курсу 2.5)
func (e *testEnv) createOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func testSlate(t *testing.T, id string, amount int64) *models.Slate {
	t.Helper()
	raw := []byte(`{"id":"` + id + `","amount":` + decimal.NewFromInt(amount).String() + `,"fee":8000000,"num_participants":2,"participant_data":[]}`)
	s, err := models.ParseSlate(raw)
	if err != nil {
		t.Fatalf("ParseSlate: %v", err)
	}
	return s
}

func historyOf(t *testing.T, store *repository.MemoryStore, key models.OrderKey) []models.OrderStatus {
	t.Helper()
	changes, err := store.GetStatusHistory(context.Background(), key)
	if err != nil {
		t.Fatalf("GetStatusHistory: %v", err)
	}
	out := make([]models.OrderStatus, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Status)
	}
	return out
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
