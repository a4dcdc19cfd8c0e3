package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/devaloi/pokersync/internal/client"
	"github.com/devaloi/pokersync/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS handles WebSocket upgrade requests. The optional user query
// parameter is the participant id used by joins that do not name one.
func ServeWS(h *hub.Hub, opts client.Options) http.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
			return
		}

		c := client.New(h, conn, r.URL.Query().Get("user"), opts)
		go c.ReadPump()
		go c.WritePump()
	}
}
