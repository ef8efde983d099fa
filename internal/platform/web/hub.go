package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dontdude/pystudio/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
)

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // Allow all origins for dev
}

// client is one websocket viewer of a session.
type client struct {
	conn *websocket.Conn
	send chan domain.ConsoleEvent
}

// Hub streams console events to the websocket viewers of each session.
// It implements domain.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Notify queues ev for every viewer of its session. A viewer whose buffer is
// full misses the event rather than stalling the console.
func (h *Hub) Notify(_ context.Context, ev domain.ConsoleEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ev.SessionID] {
		select {
		case c.send <- ev:
		default:
			slog.Warn("Dropping console event for slow viewer", "sessionID", ev.SessionID, "remoteAddr", c.conn.RemoteAddr())
		}
	}
}

// Forward relays events from another source (the Redis console channel)
// until it closes or ctx is done.
func (h *Hub) Forward(ctx context.Context, events <-chan domain.ConsoleEvent) {
	slog.Info("Starting console event forwarder...")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Notify(ctx, ev)
		}
	}
}

// Viewers returns how many connections watch sessionID.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// ServeWS upgrades the connection and streams sessionID's events to it
// until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	// 1. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// 2. Register to Hub
	slog.Info("Client connected via WebSocket", "sessionID", sessionID, "remoteAddr", conn.RemoteAddr())
	c := &client{conn: conn, send: make(chan domain.ConsoleEvent, sendBuffer)}
	h.register(sessionID, c)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// 3. Clean up on disconnect
	defer func() {
		slog.Info("Client disconnected", "sessionID", sessionID)
		h.unregister(sessionID, c)
		<-done
		conn.Close()
	}()

	// 4. Read loop: keeps the connection alive until the client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			slog.Error("Failed to write to websocket", "sessionID", ev.SessionID, "error", err)
			// Unblock the read loop; it unregisters us.
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) register(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[sessionID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c and closes its send channel, which ends writeLoop.
func (h *Hub) unregister(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[sessionID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, sessionID)
	}
	close(c.send)
}
