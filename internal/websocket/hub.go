package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"grinpay/internal/metrics"
	"grinpay/internal/models"
	"grinpay/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Пул буферов для сериализации broadcast сообщений
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// broadcastBufferSize - очередь сообщений hub
const broadcastBufferSize = 256

// Hub управляет WebSocket соединениями операторов
//
// Назначение:
// Live feed переходов статусов заказов. Каждый записанный StatusChange
// рассылается всем подключенным клиентам как сообщение statusChange.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Broadcast без блокировки вызывающего (переполненная очередь - сообщение отбрасывается)
// - Отключение медленных клиентов
//
// Использование:
// 1. hub := NewHub(allowedOrigins...)
// 2. go hub.Run()
// 3. lifecycle.AddListener(hub)
// 4. hub.Stop() при завершении
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	origins *OriginChecker
	dropped atomic.Int64

	log *utils.Logger
}

// NewHub создает Hub. Пустой список origins разрешает любые.
func NewHub(allowedOrigins ...string) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        utils.L().WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub (в отдельной горутине)
//
// Список клиентов копируется под коротким RLock, отправка идет без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(total))
	h.log.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("total", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	metrics.ConnectedClients.Set(0)
}

// Stop останавливает Hub и закрывает соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь.
// Не блокируется: при полной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		metrics.DroppedMessages.Inc()
	}
}

// BroadcastStatusChange рассылает переход статуса
func (h *Hub) BroadcastStatusChange(order *models.Order, change *models.StatusChange) {
	h.Broadcast(NewStatusChangeMessage(order, change))
}

// OnStatusChange - Hub как слушатель переходов
func (h *Hub) OnStatusChange(order *models.Order, change *models.StatusChange) {
	h.BroadcastStatusChange(order, change)
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
