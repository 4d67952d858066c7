package handlers

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout - ограничение на проверку одной зависимости
const healthTimeout = 2 * time.Second

// Pinger - зависимость, доступность которой проверяет /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler отвечает на проверки живости.
// Недоступное хранилище дает 503, недоступный кошелек только отмечается в ответе:
// заказы и статусы продолжают работать без него.
type HealthHandler struct {
	store  Pinger
	wallet Pinger
}

// NewHealthHandler создает HealthHandler (wallet может быть nil)
func NewHealthHandler(store, wallet Pinger) *HealthHandler {
	return &HealthHandler{store: store, wallet: wallet}
}

// HealthResponse - ответ /health
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Wallet string `json:"wallet,omitempty"`
}

// Health проверяет хранилище и кошелек
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: check(r.Context(), h.store)}
	if h.wallet != nil {
		resp.Wallet = check(r.Context(), h.wallet)
	}

	code := http.StatusOK
	if resp.Store != "ok" {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if resp.Wallet != "" && resp.Wallet != "ok" {
		resp.Status = "degraded"
	}
	respondWithJSON(w, code, resp)
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "ok"
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}
