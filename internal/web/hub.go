package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
)

const (
	msgStatus = "status"
	msgPairs  = "pairs-update"
	msgLog    = "log"

	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	clientBuffer = 64
)

// message is the frame pushed to dashboard clients.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes bus events to connected WebSocket clients.
type Hub struct {
	l        *zap.Logger
	initial  func() []message
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub. initial returns the frames every new client receives first.
func NewHub(l *zap.Logger, initial func() []message) *Hub {
	if l == nil {
		l = zap.NewNop()
	}

	return &Hub{
		l:       l,
		initial: initial,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	if h.initial != nil {
		for _, m := range h.initial() {
			if payload, err := json.Marshal(m); err == nil {
				c.send <- payload
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.l.Debug("dashboard client connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Handle converts a bus event into a dashboard frame.
func (h *Hub) Handle(_ context.Context, e domain.Event) {
	switch e.Kind {
	case domain.EventState:
		h.broadcast(message{Type: msgPairs, Data: e.Payload})
	case domain.EventStatus:
		h.broadcast(message{Type: msgStatus, Data: e.Payload})
	case domain.EventPrice:
		// price ticks reach the dashboard through pairs-update
	default:
		e.Payload = nil
		h.broadcast(message{Type: msgLog, Data: e})
	}
}

func (h *Hub) broadcast(m message) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.l.Error("failed to encode websocket frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// slow client
			h.remove(c)
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		h.remove(c)
		h.mu.Unlock()
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
