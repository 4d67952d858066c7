package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"grinpay/internal/clock"
	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/pkg/crypto"
	"grinpay/pkg/utils"
)

// Значения по умолчанию
const (
	DefaultOrderTTL         = 15 * time.Minute
	DefaultMaxConfirmations = 100

	// statusLookupTimeout - сколько ждать кошелек при запросе статуса оплаты
	statusLookupTimeout = 3 * time.Second
)

// OrderConfig - параметры заказов
type OrderConfig struct {
	OrderTTL         time.Duration
	MaxConfirmations int
}

// CreateOrderRequest - запрос на создание заказа
type CreateOrderRequest struct {
	MerchantID            string  `json:"-"`
	OrderID               string  `json:"order_id"`
	Amount                int64   `json:"amount"`
	Currency              string  `json:"currency"`
	ConfirmationsRequired int     `json:"confirmations_required"`
	CallbackURL           string  `json:"callback_url"`
	Email                 *string `json:"email,omitempty"`
	CallbackToken         string  `json:"callback_token,omitempty"`
}

// PaymentStatus - проекция заказа для страницы статуса оплаты
type PaymentStatus struct {
	MerchantID            string             `json:"merchant_id"`
	OrderID               string             `json:"order_id"`
	Status                models.OrderStatus `json:"status"`
	StatusInfo            string             `json:"status_info"`
	Amount                models.Money       `json:"amount"`
	GrinAmount            models.Money       `json:"grin_amount"`
	SecondsUntilExpired   int64              `json:"seconds_until_expired"`
	CurrentConfirmations  int64              `json:"current_confirmations"`
	RequiredConfirmations int                `json:"required_confirmations"`
	ExpiresAt             time.Time          `json:"expires_at"`
}

// OrderService - создание заказов и чтение их состояния
type OrderService struct {
	store     Store
	rates     RateSource
	lifecycle *Lifecycle
	cipher    *crypto.TokenCipher
	backend   WalletBackend // опционально, для текущей глубины транзакции
	clock     clock.Clock
	cfg       OrderConfig
	log       *utils.Logger
}

// NewOrderService создает сервис заказов
func NewOrderService(
	store Store,
	rates RateSource,
	lifecycle *Lifecycle,
	cipher *crypto.TokenCipher,
	clk clock.Clock,
	cfg OrderConfig,
) *OrderService {
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = DefaultOrderTTL
	}
	if cfg.MaxConfirmations <= 0 {
		cfg.MaxConfirmations = DefaultMaxConfirmations
	}
	return &OrderService{
		store:     store,
		rates:     rates,
		lifecycle: lifecycle,
		cipher:    cipher,
		clock:     clk,
		cfg:       cfg,
		log:       utils.L().WithComponent("orders"),
	}
}

// SetWalletBackend подключает кошелек для показа текущих подтверждений
func (s *OrderService) SetWalletBackend(backend WalletBackend) {
	s.backend = backend
}

// ============ Создание ============

// CreateOrder регистрирует заказ мерчанта.
//
// Сумма в GRIN считается один раз по текущему курсу и больше не меняется.
// Заказ создается в статусе UNPAID вместе с первой записью журнала.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	currency, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	rate := decimal.NewFromInt(1)
	if currency != models.CurrencyGRIN {
		snapshot, err := s.rates.GetRate(ctx, currency)
		if err != nil {
			return nil, err
		}
		if !snapshot.Rate.IsPositive() {
			return nil, fmt.Errorf("%w: non-positive %s rate", ErrRateUnavailable, currency)
		}
		rate = snapshot.Rate
	}

	grins, err := models.NewMoney(req.Amount, currency).ConvertTo(models.CurrencyGRIN, rate)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if grins.Amount <= 0 {
		return nil, inputError(fmt.Errorf("amount %d %s is below one nanogrin", req.Amount, currency))
	}

	now := s.clock.Now()
	order := &models.Order{
		MerchantID:            req.MerchantID,
		OrderID:               req.OrderID,
		FiatAmount:            req.Amount,
		FiatCurrency:          currency,
		GrinAmount:            grins.Amount,
		Rate:                  rate,
		ConfirmationsRequired: req.ConfirmationsRequired,
		CallbackURL:           req.CallbackURL,
		Email:                 normalizeEmail(req.Email),
		Status:                models.OrderStatusUnpaid,
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.Add(s.cfg.OrderTTL),
	}

	if req.CallbackToken != "" {
		if s.cipher == nil {
			return nil, errors.New("callback token cipher is not configured")
		}
		sealed, err := s.cipher.Seal(req.CallbackToken, order.Key().String())
		if err != nil {
			return nil, fmt.Errorf("encrypt callback token: %w", err)
		}
		order.CallbackToken = sealed
	}

	change, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, mapStoreError(err)
	}

	metrics.OrdersCreated.WithLabelValues(string(currency)).Inc()
	metrics.RecordTransition(string(change.Status))
	s.log.Info("order created",
		utils.MerchantID(order.MerchantID),
		utils.OrderID(order.OrderID),
		utils.String("amount", order.Grins().String()),
		utils.String("rate", rate.String()))

	s.lifecycle.publish(order, change)
	return order, nil
}

// validateCreate проверяет поля запроса до любых обращений к хранилищу
func (s *OrderService) validateCreate(req *CreateOrderRequest) (models.Currency, error) {
	var verrs utils.ValidationErrors
	verrs.AddError("merchant_id", utils.ValidateMerchantID(req.MerchantID))
	verrs.AddError("order_id", utils.ValidateOrderID(req.OrderID))
	verrs.AddError("amount", utils.ValidateAmount(req.Amount))
	verrs.AddError("confirmations_required", utils.ValidateConfirmations(req.ConfirmationsRequired, s.cfg.MaxConfirmations))
	verrs.AddError("callback_url", utils.ValidateCallbackURL(req.CallbackURL))
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		verrs.AddError("email", utils.ValidateEmail(strings.TrimSpace(*req.Email)))
	}

	currency, currErr := models.ParseCurrency(req.Currency)
	if verrs.HasErrors() {
		if currErr != nil {
			verrs.AddError("currency", currErr)
		}
		return "", inputError(verrs)
	}
	if currErr != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, req.Currency)
	}
	return currency, nil
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	e := strings.TrimSpace(*email)
	if e == "" {
		return nil
	}
	return &e
}

// ============ Чтение ============

// GetOrder возвращает заказ
func (s *OrderService) GetOrder(ctx context.Context, key models.OrderKey) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, key)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return order, nil
}

// GetStatusHistory возвращает журнал статусов заказа, от старых к новым
func (s *OrderService) GetStatusHistory(ctx context.Context, key models.OrderKey) ([]*models.StatusChange, error) {
	if _, err := s.GetOrder(ctx, key); err != nil {
		return nil, err
	}
	changes, err := s.store.GetStatusHistory(ctx, key)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return changes, nil
}

// GetPaymentStatus возвращает состояние оплаты: остаток времени и подтверждения
func (s *OrderService) GetPaymentStatus(ctx context.Context, key models.OrderKey) (*PaymentStatus, error) {
	order, err := s.GetOrder(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := &PaymentStatus{
		MerchantID:            order.MerchantID,
		OrderID:               order.OrderID,
		Status:                order.Status,
		StatusInfo:            models.StatusInfo(order.Status),
		Amount:                models.NewMoney(order.FiatAmount, order.FiatCurrency),
		GrinAmount:            order.Grins(),
		RequiredConfirmations: order.ConfirmationsRequired,
		ExpiresAt:             order.ExpiresAt,
	}
	if order.Status == models.OrderStatusUnpaid {
		status.SecondsUntilExpired = order.SecondsUntilExpired(now)
	}

	switch order.Status {
	case models.OrderStatusConfirmed:
		status.CurrentConfirmations = int64(order.ConfirmationsRequired)
	case models.OrderStatusReceived:
		status.CurrentConfirmations = s.currentConfirmations(ctx, order)
	}
	return status, nil
}

// currentConfirmations - глубина активной транзакции по данным кошелька.
// Ошибки кошелька не мешают показать статус: возвращается 0.
func (s *OrderService) currentConfirmations(ctx context.Context, order *models.Order) int64 {
	if s.backend == nil {
		return 0
	}
	txs, err := s.store.GetTransactionsByOrder(ctx, order.Key())
	if err != nil {
		return 0
	}

	for _, tx := range txs {
		if !tx.IsActive() {
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, statusLookupTimeout)
		st, err := s.backend.TxStatus(lookupCtx, tx.SlateID)
		cancel()
		if err != nil {
			s.log.Debug("confirmations lookup failed", utils.SlateID(tx.SlateID), utils.Err(err))
			return 0
		}
		// Заказ подтверждается опросом, до этого не показываем больше required-1
		if limit := int64(order.ConfirmationsRequired) - 1; st.Confirmations > limit {
			return limit
		}
		return st.Confirmations
	}
	return 0
}

// ============ Доставки callback ============

// GetDeliveries возвращает доставки callback по заказу
func (s *OrderService) GetDeliveries(ctx context.Context, key models.OrderKey) ([]*models.CallbackDelivery, error) {
	if _, err := s.GetOrder(ctx, key); err != nil {
		return nil, err
	}
	deliveries, err := s.store.GetDeliveriesByOrder(ctx, key)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return deliveries, nil
}

// ListFailedDeliveries возвращает доставки, исчерпавшие попытки
func (s *OrderService) ListFailedDeliveries(ctx context.Context, limit int) ([]*models.CallbackDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListFailedDeliveries(ctx, limit)
}

// ============ Callback токен ============

// TokenOpener расшифровывает callback токен заказа (для диспетчера)
type TokenOpener struct {
	cipher *crypto.TokenCipher
}

// NewTokenOpener создает TokenOpener
func NewTokenOpener(cipher *crypto.TokenCipher) *TokenOpener {
	return &TokenOpener{cipher: cipher}
}

// CallbackToken возвращает расшифрованный токен или "" если токена нет
func (o *TokenOpener) CallbackToken(order *models.Order) (string, error) {
	if order.CallbackToken == "" {
		return "", nil
	}
	if o.cipher == nil {
		return "", errors.New("callback token cipher is not configured")
	}
	return o.cipher.Open(order.CallbackToken, order.Key().String())
}
