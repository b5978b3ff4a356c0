package ws

import (
	"encoding/json"
	"sync"
	"time"

	"aegis/internal/pipeline"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans pipeline updates out to WebSocket clients. It subscribes to
// the session bus over a buffered channel, so a slow browser can never
// stall the frame loop.
type Hub struct {
	clients     map[*websocket.Conn]bool
	mu          sync.RWMutex
	logger      *zap.Logger
	unsubscribe func()
}

// NewHub creates a hub wired to the given bus.
func NewHub(bus *pipeline.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}

	updates, unsubscribe := bus.SubscribeChannel(64)
	h.unsubscribe = unsubscribe
	go h.pump(updates)

	return h
}

func (h *Hub) pump(updates <-chan *pipeline.Update) {
	for u := range updates {
		h.broadcast(newMessage(u))
	}
}

// Register adds a client connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client registered", zap.Int("total", total))
}

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	h.logger.Debug("ws client unregistered")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("ws write failed, dropping client", zap.Error(err))
			h.Unregister(conn)
			conn.Close()
		}
	}
}

// Close detaches the hub from the bus and closes all clients.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
