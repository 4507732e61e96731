// Package events pushes conversation events to connected operator consoles
// over WebSocket. Delivery is best effort: the durable record lives in the
// message store, the hub only keeps dashboards live.
package events

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event kinds pushed to operator consoles.
const (
	KindCustomerMessage = "customer_message"
	KindHeldForOperator = "held_for_operator"
	KindAIReply         = "ai_reply"
	KindTakeover        = "takeover"
	KindHandback        = "handback"
	KindStatusUpdate    = "status_update"
)

// Event is one frame sent to operator consoles.
type Event struct {
	Kind           string    `json:"kind"`
	Phone          string    `json:"phone,omitempty"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	Status         string    `json:"status,omitempty"`
	Actor          string    `json:"actor,omitempty"` // operator id or "agent"
	At             time.Time `json:"at"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to all connected clients. A slow client has its
// frames dropped, never blocking the broadcaster.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Consoles connect with a bearer token, not cookies, so
			// cross-origin upgrades carry no ambient credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			slog.Warn("event dropped for slow client", "client_id", c.id, "kind", ev.Kind)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, 64),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()

	// Read loop exists only to observe close frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	slog.Info("operator console connected", "client_id", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		close(c.send)
		delete(h.clients, c.id)
	}
	_ = c.conn.Close()
	slog.Info("operator console disconnected", "client_id", c.id)
}

func (c *client) writePump() {
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(ev); err != nil {
			slog.Debug("websocket write failed", "client_id", c.id, "error", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
