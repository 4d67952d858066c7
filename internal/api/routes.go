package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grinpay/internal/api/handlers"
	"grinpay/internal/api/middleware"
	"grinpay/internal/service"
	"grinpay/internal/websocket"
	"grinpay/pkg/crypto"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	OrderService   service.OrderServiceInterface
	PaymentService service.PaymentServiceInterface
	Hub            *websocket.Hub

	// Проверки для /health (Wallet может быть nil)
	Store  handlers.Pinger
	Wallet handlers.Pinger

	OperatorCredentials crypto.Credentials
	AllowedOrigins      []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (и то же самое от корня, для совместимости)
//
//	└── /merchants/{merchantId}/orders
//	    ├── POST / - создать заказ
//	    ├── GET /{orderId} - получить заказ
//	    ├── POST /{orderId} - отправить слейт
//	    ├── GET /{orderId}/status - состояние оплаты
//	    ├── GET /{orderId}/history - журнал статусов
//	    └── GET /{orderId}/deliveries - доставки callback
//
// Оператор (Basic auth):
//
//	├── GET /api/v1/deliveries/failed - исчерпавшие попытки доставки
//	├── GET /ws/stream - WebSocket с переходами статусов
//	└── GET /metrics - prometheus
//
// GET /health - без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. OperatorAuth (только для операторских маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))

	orderHandler := handlers.NewOrderHandler(deps.OrderService)
	paymentHandler := handlers.NewPaymentHandler(deps.PaymentService)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Wallet)
	operatorAuth := middleware.OperatorAuth(deps.OperatorCredentials)

	// Операторские маршруты регистрируются первыми: /api/v1/deliveries
	// не должен попасть в префикс мерчанта
	api := router.PathPrefix("/api/v1").Subrouter()

	operator := api.PathPrefix("/deliveries").Subrouter()
	operator.Use(operatorAuth)
	operator.HandleFunc("/failed", orderHandler.ListFailedDeliveries).Methods("GET")

	if deps.Hub != nil {
		router.Handle("/ws/stream", operatorAuth(http.HandlerFunc(deps.Hub.ServeWS))).Methods("GET")
	}
	router.Handle("/metrics", operatorAuth(promhttp.Handler())).Methods("GET")

	// Мерчантские маршруты: /api/v1 и корень
	registerMerchantRoutes(api, orderHandler, paymentHandler)
	registerMerchantRoutes(router, orderHandler, paymentHandler)

	router.HandleFunc("/health", healthHandler.Health).Methods("GET")

	// Preflight запросы: ответ формирует CORS middleware
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

func registerMerchantRoutes(r *mux.Router, orders *handlers.OrderHandler, payments *handlers.PaymentHandler) {
	m := r.PathPrefix("/merchants/{merchantId}/orders").Subrouter()

	m.HandleFunc("", orders.CreateOrder).Methods("POST")
	m.HandleFunc("/{orderId}", orders.GetOrder).Methods("GET")
	m.HandleFunc("/{orderId}", payments.SubmitSlate).Methods("POST")
	m.HandleFunc("/{orderId}/status", orders.GetPaymentStatus).Methods("GET")
	m.HandleFunc("/{orderId}/history", orders.GetStatusHistory).Methods("GET")
	m.HandleFunc("/{orderId}/deliveries", orders.GetDeliveries).Methods("GET")
}
