package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"grinpay/internal/models"
	"grinpay/internal/service"
)

// ErrMockDatabase - ошибка хранилища для тестов
var ErrMockDatabase = errors.New("mock database error")

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// ============ Mock Order Service ============

// MockOrderService мок для OrderServiceInterface
type MockOrderService struct {
	mu         sync.RWMutex
	orders     map[models.OrderKey]*models.Order
	history    map[models.OrderKey][]*models.StatusChange
	deliveries map[models.OrderKey][]*models.CallbackDelivery
	failed     []*models.CallbackDelivery
	errors     map[string]error
	lastCreate *service.CreateOrderRequest
	lastLimit  int
}

// NewMockOrderService создает новый мок сервиса заказов
func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders:     make(map[models.OrderKey]*models.Order),
		history:    make(map[models.OrderKey][]*models.StatusChange),
		deliveries: make(map[models.OrderKey][]*models.CallbackDelivery),
		errors:     make(map[string]error),
	}
}

// SetError задает ошибку для операции: create, get, status, history, deliveries, failed
func (m *MockOrderService) SetError(op string, err error) {
	m.mu.Lock()
	m.errors[op] = err
	m.mu.Unlock()
}

// AddOrder добавляет заказ
func (m *MockOrderService) AddOrder(o *models.Order) {
	m.mu.Lock()
	m.orders[o.Key()] = o
	m.mu.Unlock()
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCreate = req
	if err := m.errors["create"]; err != nil {
		return nil, err
	}

	key := models.OrderKey{MerchantID: req.MerchantID, OrderID: req.OrderID}
	if _, exists := m.orders[key]; exists {
		return nil, service.ErrConflict
	}

	currency, _ := models.ParseCurrency(req.Currency)
	o := &models.Order{
		MerchantID:            req.MerchantID,
		OrderID:               req.OrderID,
		FiatAmount:            req.Amount,
		FiatCurrency:          currency,
		GrinAmount:            req.Amount * 10_000_000,
		ConfirmationsRequired: req.ConfirmationsRequired,
		CallbackURL:           req.CallbackURL,
		Email:                 req.Email,
		Status:                models.OrderStatusUnpaid,
		CreatedAt:             testNow,
		UpdatedAt:             testNow,
		ExpiresAt:             testNow.Add(15 * time.Minute),
	}
	m.orders[key] = o
	return o, nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errors["get"]; err != nil {
		return nil, err
	}
	o, ok := m.orders[key]
	if !ok {
		return nil, service.ErrNotFound
	}
	return o, nil
}

func (m *MockOrderService) GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errors["history"]; err != nil {
		return nil, err
	}
	if _, ok := m.orders[key]; !ok {
		return nil, service.ErrNotFound
	}
	return m.history[key], nil
}

func (m *MockOrderService) GetPaymentStatus(ctx context.Context, key models.OrderKey) (*service.PaymentStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errors["status"]; err != nil {
		return nil, err
	}
	o, ok := m.orders[key]
	if !ok {
		return nil, service.ErrNotFound
	}
	return &service.PaymentStatus{
		MerchantID:            o.MerchantID,
		OrderID:               o.OrderID,
		Status:                o.Status,
		StatusInfo:            models.StatusInfo(o.Status),
		Amount:                models.NewMoney(o.FiatAmount, o.FiatCurrency),
		GrinAmount:            o.Grins(),
		SecondsUntilExpired:   o.SecondsUntilExpired(testNow),
		RequiredConfirmations: o.ConfirmationsRequired,
		ExpiresAt:             o.ExpiresAt,
	}, nil
}

func (m *MockOrderService) GetDeliveries(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errors["deliveries"]; err != nil {
		return nil, err
	}
	if _, ok := m.orders[key]; !ok {
		return nil, service.ErrNotFound
	}
	return m.deliveries[key], nil
}

func (m *MockOrderService) ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastLimit = limit
	if err := m.errors["failed"]; err != nil {
		return nil, err
	}
	if len(m.failed) > limit {
		return m.failed[:limit], nil
	}
	return m.failed, nil
}

// ============ Mock Payment Service ============

// MockPaymentService мок для PaymentServiceInterface
type MockPaymentService struct {
	mu        sync.Mutex
	result    *service.SubmitResult
	err       error
	calls     int
	lastKey   models.OrderKey
	lastSlate *models.Slate
}

// NewMockPaymentService создает новый мок приема слейтов
func NewMockPaymentService() *MockPaymentService {
	return &MockPaymentService{}
}

func (m *MockPaymentService) SetResult(result *service.SubmitResult) {
	m.mu.Lock()
	m.result = result
	m.mu.Unlock()
}

func (m *MockPaymentService) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockPaymentService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockPaymentService) SubmitSlate(ctx context.Context, key models.OrderKey, slate *models.Slate) (*service.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastKey = key
	m.lastSlate = slate
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// ============ Mock Pinger ============

type mockPinger struct {
	err error
}

func (p *mockPinger) Ping(ctx context.Context) error { return p.err }
