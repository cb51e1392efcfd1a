// Package realtime pushes change records to connected websocket clients.
package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"pricetracker/internal/products"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// PublishChange broadcasts a change record to every client. A client whose
// write fails is dropped. Satisfies watcher.Publisher.
func (h *Hub) PublishChange(_ context.Context, rec *products.ChangeRecord) error {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.RUnlock()

	for _, conn := range clients {
		if err := conn.WriteJSON(rec); err != nil {
			h.RemoveClient(conn)
		}
	}
	return nil
}
