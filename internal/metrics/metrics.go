// Package metrics - prometheus метрики шлюза.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики платежного шлюза
// ============================================================
//
// Отдаются на /metrics (только для оператора):
// - латентность кошелька и ноды
// - переходы статусов заказов
// - работа фоновых задач (опрос, истечение, доставка callback)

const namespace = "grinpay"

// ============ Кошелек и нода ============

// BackendRequestLatency - время запроса к кошельку/ноде
var BackendRequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "request_latency_ms",
		Help:      "Wallet and node request latency in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"endpoint", "result"}, // result: ok, rejected, error
)

// ============ Заказы ============

// OrdersCreated - созданные заказы
var OrdersCreated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Total number of created orders",
	},
	[]string{"currency"},
)

// StatusTransitions - записанные переходы статусов
var StatusTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "status_transitions_total",
		Help:      "Total number of recorded status transitions",
	},
	[]string{"status"},
)

// SlateSubmissions - результаты отправки слейтов
var SlateSubmissions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "slate_submissions_total",
		Help:      "Slate submissions by result",
	},
	[]string{"result"}, // accepted, rejected, unavailable, conflict, invalid, unrecorded
)

// ============ Фоновые задачи ============

// TaskCycles - завершенные циклы фоновых задач
var TaskCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "cycles_total",
		Help:      "Background task cycles by result",
	},
	[]string{"task", "result"}, // result: ok, error
)

// TaskCycleDuration - длительность цикла фоновой задачи
var TaskCycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "cycle_duration_ms",
		Help:      "Background task cycle duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	},
	[]string{"task"},
)

// ActiveTransactions - транзакции, ожидающие подтверждений
var ActiveTransactions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "active_transactions",
		Help:      "Transactions waiting for confirmations at the last poll",
	},
)

// ConfirmTimeouts - транзакции, отклоненные по сроку ожидания подтверждений
var ConfirmTimeouts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "confirm_timeouts_total",
		Help:      "Transactions rejected for not reaching required depth in time",
	},
)

// CallbackDeliveries - попытки доставки callback
var CallbackDeliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "callback",
		Name:      "attempts_total",
		Help:      "Callback delivery attempts by result",
	},
	[]string{"result"}, // delivered, retry, failed
)

// ============ Live feed ============

// DroppedMessages - сообщения, не доставленные медленным клиентам
var DroppedMessages = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped for slow websocket clients",
	},
)

// ConnectedClients - подключенные операторы
var ConnectedClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "connected_clients",
		Help:      "Currently connected websocket clients",
	},
)

// ============ Email ============

// EmailsDropped - уведомления, отброшенные из-за переполненной очереди
var EmailsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "emails_dropped_total",
		Help:      "Buyer emails dropped because the queue was full",
	},
)

// ============ HTTP ============

// HTTPRequests - запросы к API
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code",
	},
	[]string{"method", "code"},
)

// ============ Вспомогательные функции ============

// RecordBackendRequest записывает запрос к кошельку/ноде
func RecordBackendRequest(endpoint, result string, latencyMs float64) {
	BackendRequestLatency.WithLabelValues(endpoint, result).Observe(latencyMs)
}

// RecordTaskCycle записывает цикл фоновой задачи
func RecordTaskCycle(task string, err error, latencyMs float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TaskCycles.WithLabelValues(task, result).Inc()
	TaskCycleDuration.WithLabelValues(task).Observe(latencyMs)
}

// RecordTransition записывает переход в статус
func RecordTransition(status string) {
	StatusTransitions.WithLabelValues(status).Inc()
}

// RecordSubmission записывает результат отправки слейта
func RecordSubmission(result string) {
	SlateSubmissions.WithLabelValues(result).Inc()
}

// RecordDelivery записывает попытку доставки callback
func RecordDelivery(result string) {
	CallbackDeliveries.WithLabelValues(result).Inc()
}

// RecordEmailDropped записывает отброшенное уведомление
func RecordEmailDropped() {
	EmailsDropped.Inc()
}
