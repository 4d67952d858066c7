package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"grinpay/internal/models"
	"grinpay/internal/service"
	"grinpay/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodySize - ограничение тела запроса (заказ или слейт)
const maxBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError переводит ошибку сервиса в HTTP статус.
// Неизвестные ошибки логируются и возвращаются как 500 без подробностей.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "Order not found", "")

	case errors.Is(err, service.ErrConflict):
		respondWithError(w, http.StatusConflict, "conflict", "Conflicting request", err.Error())

	case errors.Is(err, service.ErrInvalidState):
		respondWithError(w, http.StatusConflict, "invalid_state", "Operation not allowed in current order status", err.Error())

	case errors.Is(err, service.ErrAmountMismatch):
		respondWithError(w, http.StatusUnprocessableEntity, "amount_mismatch", "Slate amount does not match order amount", err.Error())

	case errors.Is(err, service.ErrSlateRejected):
		respondWithError(w, http.StatusUnprocessableEntity, "slate_rejected", "Slate rejected by wallet", err.Error())

	case errors.Is(err, service.ErrUnsupportedCurrency):
		respondWithError(w, http.StatusUnprocessableEntity, "unsupported_currency", "Unsupported currency", err.Error())

	case errors.Is(err, service.ErrInvalidInput):
		resp := ErrorResponse{Error: "Invalid request", Code: "invalid_input", Details: err.Error()}
		var verrs utils.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = verrs.Fields()
		}
		respondWithJSON(w, http.StatusUnprocessableEntity, resp)

	case errors.Is(err, service.ErrRateUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "rate_unavailable", "Exchange rate unavailable", "")

	case errors.Is(err, service.ErrBackendUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "backend_unavailable", "Wallet is temporarily unavailable", "")

	default:
		utils.L().WithComponent("api").Error("unhandled service error",
			utils.String("path", r.URL.Path),
			utils.Err(err),
		)
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

// orderKey извлекает ключ заказа из пути
func orderKey(r *http.Request) models.OrderKey {
	vars := mux.Vars(r)
	return models.OrderKey{MerchantID: vars["merchantId"], OrderID: vars["orderId"]}
}

// parseLimit читает параметр limit (1..max), по умолчанию def
func parseLimit(r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
