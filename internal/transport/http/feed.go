package http

import (
	"net/http"

	"github.com/gorilla/websocket"

	"licensed/internal/statusfeed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusFeed handles GET /license/status/feed, upgrading to a
// websocket connection that streams status-dashboard snapshots
// through the shared hub.
func (h *Handler) StatusFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "status feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "status feed upgrade failed", "error", err.Error())
		return
	}

	client := statusfeed.NewClient(h.hub, conn, h.logger)
	go client.Run()
}
