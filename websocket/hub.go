package websocket

import (
	"log"
	"sync"

	"github.com/HSouheill/enrollment_backend/services"
	"github.com/gorilla/websocket"
)

// Notification types
const (
	NotificationTypeConnected     = "connected"
	NotificationTypeSessionResult = "session_result"
)

// Notification represents a message sent over WebSocket
type Notification struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Client is one browser waiting on one payment session
type Client struct {
	SessionID string
	Conn      *websocket.Conn

	mu        sync.Mutex
	delivered bool
}

// send writes a notification. Writes are serialized per connection.
func (c *Client) send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(n)
}

// deliver sends the session result at most once
func (c *Client) deliver(res services.SessionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered {
		return nil
	}
	c.delivered = true
	return c.Conn.WriteJSON(Notification{
		Type:      NotificationTypeSessionResult,
		Message:   res.Message,
		SessionID: res.SessionID,
		Data:      res,
	})
}

// Hub keeps the connected clients of each payment session
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Attach forwards every resolved session result to that session's clients
func (h *Hub) Attach(registry *services.SessionRegistry) {
	registry.OnResolve(h.NotifySessionResult)
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.sessions[client.SessionID] == nil {
				h.sessions[client.SessionID] = make(map[*Client]bool)
			}
			h.sessions[client.SessionID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.SessionID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.sessions, client.SessionID)
				}
			}
			client.Conn.Close()
			h.mu.Unlock()
		}
	}
}

// NotifySessionResult sends a resolved result to the clients of its session
func (h *Hub) NotifySessionResult(res services.SessionResult) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[res.SessionID]))
	for client := range h.sessions[res.SessionID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.deliver(res); err != nil {
			log.Printf("[WS] failed to deliver result for session %s: %v", res.SessionID, err)
		}
	}
}

// ClientCount returns the number of clients connected for a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
