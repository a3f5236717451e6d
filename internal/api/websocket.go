package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// WebSocketHub manages WebSocket connections for the live event stream.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWebSocketHub creates a new WebSocket hub.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for client := range h.clients {
				if _, err := client.Write(message); err != nil {
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()

			h.mu.Lock()
			for _, client := range failed {
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients. When the buffer is
// full the message is dropped; event producers must never block on slow
// WebSocket readers.
func (h *WebSocketHub) Broadcast(eventType string, data interface{}) {
	msg := map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().Format(time.RFC3339),
		"data":      data,
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- jsonData:
	default:
	}
}

// ServeWS handles WebSocket connections.
func (h *WebSocketHub) ServeWS(ws *websocket.Conn) {
	h.register <- ws
	defer func() {
		h.unregister <- ws
	}()

	// Keep connection alive and read messages (for ping/pong)
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
		// Handle ping
		if msg == "ping" {
			websocket.Message.Send(ws, "pong")
		}
	}
}

// WebSocketHandler returns the HTTP handler for the event stream.
func (h *WebSocketHub) WebSocketHandler() http.Handler {
	return websocket.Handler(h.ServeWS)
}
