package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"grinpay/internal/models"
	"grinpay/internal/service"
	"grinpay/pkg/utils"
)

func newTestOrder(orderID string, status models.OrderStatus) *models.Order {
	return &models.Order{
		MerchantID:            "shop",
		OrderID:               orderID,
		FiatAmount:            1999,
		FiatCurrency:          models.CurrencyUSD,
		GrinAmount:            7_996_000_000,
		ConfirmationsRequired: 10,
		CallbackURL:           "https://shop.example/grin",
		CallbackToken:         "sealed-token",
		Status:                status,
		CreatedAt:             testNow,
		UpdatedAt:             testNow,
		ExpiresAt:             testNow.Add(15 * time.Minute),
	}
}

func withOrderVars(req *http.Request, merchantID, orderID string) *http.Request {
	vars := map[string]string{"merchantId": merchantID}
	if orderID != "" {
		vars["orderId"] = orderID
	}
	return mux.SetURLVars(req, vars)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// ============ OrderHandler Tests ============

func TestOrderHandler_CreateOrder(t *testing.T) {
	t.Run("creates order", func(t *testing.T) {
		mockSvc := NewMockOrderService()
		handler := NewOrderHandler(mockSvc)

		body := `{"order_id":"inv-1","amount":1999,"currency":"USD","confirmations_required":10,"callback_url":"https://shop.example/grin","callback_token":"secret"}`
		req := withOrderVars(httptest.NewRequest(http.MethodPost, "/merchants/shop/orders", bytes.NewBufferString(body)), "shop", "")
		w := httptest.NewRecorder()

		handler.CreateOrder(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}

		var resp OrderResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.MerchantID != "shop" || resp.OrderID != "inv-1" || resp.Status != models.OrderStatusUnpaid {
			t.Errorf("unexpected response %+v", resp)
		}
		if resp.Amount != models.NewMoney(1999, models.CurrencyUSD) {
			t.Errorf("amount = %+v", resp.Amount)
		}
		if mockSvc.lastCreate.MerchantID != "shop" || mockSvc.lastCreate.CallbackToken != "secret" {
			t.Errorf("merchant id must come from the path, got %+v", mockSvc.lastCreate)
		}
	})

	t.Run("path merchant overrides body", func(t *testing.T) {
		mockSvc := NewMockOrderService()
		handler := NewOrderHandler(mockSvc)

		body := `{"merchant_id":"other","order_id":"inv-1","amount":1,"currency":"GRIN","confirmations_required":1,"callback_url":"https://x.example"}`
		req := withOrderVars(httptest.NewRequest(http.MethodPost, "/merchants/shop/orders", bytes.NewBufferString(body)), "shop", "")
		w := httptest.NewRecorder()

		handler.CreateOrder(w, req)

		if mockSvc.lastCreate == nil || mockSvc.lastCreate.MerchantID != "shop" {
			t.Errorf("expected merchant shop, got %+v", mockSvc.lastCreate)
		}
	})

	t.Run("returns 400 on invalid JSON", func(t *testing.T) {
		handler := NewOrderHandler(NewMockOrderService())

		req := withOrderVars(httptest.NewRequest(http.MethodPost, "/merchants/shop/orders", bytes.NewBufferString("{")), "shop", "")
		w := httptest.NewRecorder()

		handler.CreateOrder(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if resp := decodeError(t, w); resp.Code != "invalid_request" {
			t.Errorf("code = %q", resp.Code)
		}
	})

	t.Run("returns 409 on duplicate", func(t *testing.T) {
		mockSvc := NewMockOrderService()
		mockSvc.AddOrder(newTestOrder("inv-1", models.OrderStatusUnpaid))
		handler := NewOrderHandler(mockSvc)

		body := `{"order_id":"inv-1","amount":1999,"currency":"USD","confirmations_required":10,"callback_url":"https://shop.example/grin"}`
		req := withOrderVars(httptest.NewRequest(http.MethodPost, "/merchants/shop/orders", bytes.NewBufferString(body)), "shop", "")
		w := httptest.NewRecorder()

		handler.CreateOrder(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
		}
	})

	t.Run("returns 422 with field errors", func(t *testing.T) {
		mockSvc := NewMockOrderService()
		var verrs utils.ValidationErrors
		verrs.Add("amount", "amount must be greater than 0")
		mockSvc.SetError("create", fmt.Errorf("%w: %w", service.ErrInvalidInput, verrs))
		handler := NewOrderHandler(mockSvc)

		req := withOrderVars(httptest.NewRequest(http.MethodPost, "/merchants/shop/orders", bytes.NewBufferString(`{}`)), "shop", "")
		w := httptest.NewRecorder()

		handler.CreateOrder(w, req)

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}
		resp := decodeError(t, w)
		if resp.Code != "invalid_input" || resp.Fields["amount"] == "" {
			t.Errorf("unexpected error response %+v", resp)
		}
	})
}

func TestOrderHandler_GetOrder(t *testing.T) {
	mockSvc := NewMockOrderService()
	mockSvc.AddOrder(newTestOrder("inv-1", models.OrderStatusReceived))
	handler := NewOrderHandler(mockSvc)

	t.Run("returns projection without secrets", func(t *testing.T) {
		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/inv-1", nil), "shop", "inv-1")
		w := httptest.NewRecorder()

		handler.GetOrder(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if bytes.Contains(w.Body.Bytes(), []byte("sealed-token")) {
			t.Error("callback token must not be exposed")
		}

		var resp OrderResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != models.OrderStatusReceived || resp.GrinAmount.Amount != 7_996_000_000 {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("returns 404 for unknown order", func(t *testing.T) {
		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/nope", nil), "shop", "nope")
		w := httptest.NewRecorder()

		handler.GetOrder(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		failing := NewMockOrderService()
		failing.SetError("get", ErrMockDatabase)

		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/inv-1", nil), "shop", "inv-1")
		w := httptest.NewRecorder()

		NewOrderHandler(failing).GetOrder(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		if resp := decodeError(t, w); resp.Details != "" {
			t.Errorf("internal errors must not leak details, got %q", resp.Details)
		}
	})
}

func TestOrderHandler_GetPaymentStatus(t *testing.T) {
	mockSvc := NewMockOrderService()
	mockSvc.AddOrder(newTestOrder("inv-1", models.OrderStatusUnpaid))
	handler := NewOrderHandler(mockSvc)

	req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/inv-1/status", nil), "shop", "inv-1")
	w := httptest.NewRecorder()

	handler.GetPaymentStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp service.PaymentStatus
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SecondsUntilExpired != 900 || resp.RequiredConfirmations != 10 {
		t.Errorf("unexpected status %+v", resp)
	}
}

func TestOrderHandler_HistoryAndDeliveries(t *testing.T) {
	mockSvc := NewMockOrderService()
	order := newTestOrder("inv-1", models.OrderStatusExpired)
	mockSvc.AddOrder(order)
	mockSvc.history[order.Key()] = []*models.StatusChange{
		{ID: "c1", MerchantID: "shop", OrderID: "inv-1", Status: models.OrderStatusUnpaid, CreatedAt: testNow},
		{ID: "c2", MerchantID: "shop", OrderID: "inv-1", Status: models.OrderStatusExpired, CreatedAt: testNow},
	}
	handler := NewOrderHandler(mockSvc)

	t.Run("history", func(t *testing.T) {
		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/inv-1/history", nil), "shop", "inv-1")
		w := httptest.NewRecorder()

		handler.GetStatusHistory(w, req)

		var changes []models.StatusChange
		if err := json.NewDecoder(w.Body).Decode(&changes); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(changes) != 2 || changes[1].Status != models.OrderStatusExpired {
			t.Errorf("unexpected history %+v", changes)
		}
	})

	t.Run("empty deliveries are an empty array", func(t *testing.T) {
		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/inv-1/deliveries", nil), "shop", "inv-1")
		w := httptest.NewRecorder()

		handler.GetDeliveries(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
			t.Errorf("body = %s, want []", got)
		}
	})

	t.Run("history of unknown order is 404", func(t *testing.T) {
		req := withOrderVars(httptest.NewRequest(http.MethodGet, "/merchants/shop/orders/x/history", nil), "shop", "x")
		w := httptest.NewRecorder()

		handler.GetStatusHistory(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestOrderHandler_ListFailedDeliveries(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{"default limit", "", http.StatusOK, 100},
		{"explicit limit", "?limit=5", http.StatusOK, 5},
		{"capped limit", "?limit=10000", http.StatusOK, 500},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockOrderService()
			handler := NewOrderHandler(mockSvc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries/failed"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.ListFailedDeliveries(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK && mockSvc.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", mockSvc.lastLimit, tt.wantLimit)
			}
		})
	}
}

// Отображение ошибок сервиса на HTTP статусы
func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantBody string
	}{
		{service.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: duplicate", service.ErrConflict), http.StatusConflict, "conflict"},
		{service.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{service.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},
		{service.ErrSlateRejected, http.StatusUnprocessableEntity, "slate_rejected"},
		{service.ErrUnsupportedCurrency, http.StatusUnprocessableEntity, "unsupported_currency"},
		{service.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input"},
		{service.ErrRateUnavailable, http.StatusServiceUnavailable, "rate_unavailable"},
		{service.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
		{ErrMockDatabase, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantBody, func(t *testing.T) {
			w := httptest.NewRecorder()
			handleServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if resp := decodeError(t, w); resp.Code != tt.wantBody {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantBody)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	respondWithJSON(w, http.StatusOK, map[string]string{"test": "value"})

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}
