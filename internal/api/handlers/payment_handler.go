package handlers

import (
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"grinpay/internal/models"
	"grinpay/internal/service"
)

// PaymentHandler принимает слейты плательщиков
type PaymentHandler struct {
	paymentService service.PaymentServiceInterface
}

// NewPaymentHandler создает новый PaymentHandler
func NewPaymentHandler(paymentService service.PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// SubmitResponse - результат принятого слейта
type SubmitResponse struct {
	Order       *OrderResponse      `json:"order"`
	Transaction *models.Transaction `json:"transaction"`
	Slate       jsoniter.RawMessage `json:"slate,omitempty"` // подписанный кошельком слейт
}

// SubmitSlate передает слейт плательщика кошельку
// POST /merchants/{merchantId}/orders/{orderId}
//
// Request Body: слейт (JSON)
//
// Response:
// - 200 OK: {order, transaction, slate}
// - 400 Bad Request: тело не является слейтом
// - 404 Not Found: заказ не найден
// - 409 Conflict: параллельная отправка или заказ не принимает слейты
// - 422 Unprocessable Entity: сумма не совпадает или кошелек отклонил слейт
// - 503 Service Unavailable: кошелек недоступен
func (h *PaymentHandler) SubmitSlate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Failed to read body", err.Error())
		return
	}

	slate, err := models.ParseSlate(body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_slate", "Invalid slate", err.Error())
		return
	}

	result, err := h.paymentService.SubmitSlate(r.Context(), orderKey(r), slate)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := SubmitResponse{
		Order:       orderToResponse(result.Order),
		Transaction: result.Transaction,
	}
	if len(result.Signed) > 0 {
		resp.Slate = jsoniter.RawMessage(result.Signed)
	}
	respondWithJSON(w, http.StatusOK, resp)
}
