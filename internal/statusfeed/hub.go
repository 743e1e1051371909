// Package statusfeed is the websocket hub behind the status-page
// feed: Hub.BroadcastSnapshot fans a snapshot out to every connected
// dashboard. No handler or session-pool operation calls it, so the
// feed pushes no session-table updates on its own.
package statusfeed

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub maintains the set of connected dashboard clients and broadcasts
// snapshot messages to all of them, adapted from the teacher's
// websocket hub select loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	quit       chan struct{}

	logger *slog.Logger
}

// NewHub builds a Hub. Call Start to run its loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
		quit:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "statusfeed.hub")),
	}
}

// Start launches the hub's run loop in a new goroutine.
func (h *Hub) Start() {
	go h.run()
}

// Stop ends the run loop. It does not close individual client
// connections; callers close those via the HTTP handler's defer.
func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("status feed hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("dashboard client connected", slog.Int("client_count", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("dashboard client disconnected", slog.Int("client_count", count))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					h.mu.Lock()
					delete(h.clients, client)
					h.mu.Unlock()
					close(client.send)
					h.logger.Warn("dashboard client buffer full, disconnecting")
				}
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// BroadcastSnapshot marshals v and fans it out to every connected
// dashboard client.
func (h *Hub) BroadcastSnapshot(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.broadcast <- payload
	return nil
}

// ClientCount reports the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
