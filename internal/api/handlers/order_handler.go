package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"grinpay/internal/models"
	"grinpay/internal/service"
)

// OrderHandler обрабатывает HTTP запросы для заказов мерчантов
type OrderHandler struct {
	orderService service.OrderServiceInterface
}

// NewOrderHandler создает новый OrderHandler с внедрением зависимостей
func NewOrderHandler(orderService service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// OrderResponse представляет заказ в API ответе
type OrderResponse struct {
	MerchantID            string             `json:"merchant_id"`
	OrderID               string             `json:"order_id"`
	Amount                models.Money       `json:"amount"`
	GrinAmount            models.Money       `json:"grin_amount"`
	Rate                  string             `json:"rate"`
	ConfirmationsRequired int                `json:"confirmations_required"`
	CallbackURL           string             `json:"callback_url"`
	Email                 *string            `json:"email,omitempty"`
	Status                models.OrderStatus `json:"status"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
	ExpiresAt             time.Time          `json:"expires_at"`
}

// orderToResponse строит проекцию заказа (без callback токена и захвата)
func orderToResponse(o *models.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	return &OrderResponse{
		MerchantID:            o.MerchantID,
		OrderID:               o.OrderID,
		Amount:                models.NewMoney(o.FiatAmount, o.FiatCurrency),
		GrinAmount:            o.Grins(),
		Rate:                  o.Rate.String(),
		ConfirmationsRequired: o.ConfirmationsRequired,
		CallbackURL:           o.CallbackURL,
		Email:                 o.Email,
		Status:                o.Status,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
		ExpiresAt:             o.ExpiresAt,
	}
}

// CreateOrder создает заказ мерчанта
// POST /merchants/{merchantId}/orders
//
// Request Body:
//
//	{
//	  "order_id": "inv-1001",
//	  "amount": 1999,
//	  "currency": "USD",
//	  "confirmations_required": 10,
//	  "callback_url": "https://shop.example/grin",
//	  "email": "buyer@example.com",
//	  "callback_token": "secret"
//	}
//
// Response:
// - 201 Created: заказ создан в статусе UNPAID
// - 409 Conflict: заказ с таким order_id уже есть
// - 422 Unprocessable Entity: невалидные поля
// - 503 Service Unavailable: нет актуального курса
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	req.MerchantID = mux.Vars(r)["merchantId"]

	order, err := h.orderService.CreateOrder(r.Context(), &req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, orderToResponse(order))
}

// GetOrder возвращает заказ
// GET /merchants/{merchantId}/orders/{orderId}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), orderKey(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, orderToResponse(order))
}

// GetPaymentStatus возвращает состояние оплаты для страницы плательщика
// GET /merchants/{merchantId}/orders/{orderId}/status
func (h *OrderHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orderService.GetPaymentStatus(r.Context(), orderKey(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// GetStatusHistory возвращает журнал статусов заказа
// GET /merchants/{merchantId}/orders/{orderId}/history
func (h *OrderHandler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.orderService.GetStatusHistory(r.Context(), orderKey(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if changes == nil {
		changes = []*models.StatusChange{}
	}
	respondWithJSON(w, http.StatusOK, changes)
}

// GetDeliveries возвращает доставки callback по заказу
// GET /merchants/{merchantId}/orders/{orderId}/deliveries
func (h *OrderHandler) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.orderService.GetDeliveries(r.Context(), orderKey(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.CallbackDelivery{}
	}
	respondWithJSON(w, http.StatusOK, deliveries)
}

// ListFailedDeliveries возвращает доставки, исчерпавшие попытки (для оператора)
// GET /api/v1/deliveries/failed?limit=100
//
// Response:
// - 200 OK: массив доставок
// - 400 Bad Request: невалидный limit
func (h *OrderHandler) ListFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, 100, 500)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", "limit must be a positive number")
		return
	}

	deliveries, err := h.orderService.ListFailedDeliveries(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.CallbackDelivery{}
	}
	respondWithJSON(w, http.StatusOK, deliveries)
}
