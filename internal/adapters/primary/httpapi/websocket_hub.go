package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageTypeBlockAppended tags feed messages carrying a new record
const MessageTypeBlockAppended = "block_appended"

const maxClientMessageSize = 512

// FeedMessage is one message of the live record feed
type FeedMessage struct {
	Type string               `json:"type"`
	Data *entity.LedgerRecord `json:"data"`
}

// Hub fans appended records out to WebSocket subscribers. A subscriber whose
// send buffer is full is disconnected instead of slowing the writer.
type Hub struct {
	config   *config.WebSocketConfig
	logger   *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var _ service.RecordBroadcaster = (*Hub)(nil)

// NewHub creates a new feed hub
func NewHub(cfg *config.Config, logger *logger.Logger) *Hub {
	return &Hub{
		config: &cfg.WebSocket,
		logger: logger.WithComponent("websocket-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origins are enforced by the CORS layer for browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues record for every subscriber without blocking
func (h *Hub) Broadcast(record *entity.LedgerRecord) {
	data, err := json.Marshal(FeedMessage{Type: MessageTypeBlockAppended, Data: record})
	if err != nil {
		h.logger.Error("Failed to encode feed message", zap.Error(err))
		return
	}

	var slow []*feedClient
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow feed subscriber", zap.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// ServeHTTP upgrades the request and subscribes the connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := h.config.MaxClients > 0 && len(h.clients) >= h.config.MaxClients
	closed := h.closed
	h.mu.RUnlock()
	if closed || full {
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	size := h.config.BufferSize
	if size <= 0 {
		size = 1
	}
	c := &feedClient{hub: h, conn: conn, send: make(chan []byte, size)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Feed subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go c.writePump()
	c.readPump()
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// remove unsubscribes c. send is closed under the write lock so Broadcast
// never sends on a closed channel.
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump only services control frames; subscribers never send data
func (c *feedClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
