// Package hub pushes refresh signals to subscribed dashboard clients after a
// dead-letter retry lands fresh data. Delivery is best-effort: a slow or gone
// client is dropped, never waited on.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func New() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

type refreshSignal struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	SentAt string `json:"sent_at"`
}

// Subscribe upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[hub] failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Drain client frames; subscribers only listen, so the first read error
	// means the client left.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast fans one refresh signal out to every subscriber. Write failures
// drop the client and are logged, nothing more.
func (h *Hub) Broadcast(source string) {
	msg, err := json.Marshal(refreshSignal{
		Type:   "refresh",
		Source: source,
		SentAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[hub] marshal refresh signal: %v", err)
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			log.Printf("[hub] dropping slow subscriber: %v", err)
			c.CloseNow()
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
