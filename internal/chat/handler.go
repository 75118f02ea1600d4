package chat

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"mpchat/internal/logging"
	myMiddleware "mpchat/internal/middleware"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      logging.Logger
}

func NewHandler(hub *Hub, origins *OriginPolicy, log logging.Logger) *Handler {
	h := &Handler{hub: hub, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origins.Check(r) {
				return true
			}
			log.Warn(r.Context(), "blocked websocket origin", "origin", r.Header.Get("Origin"))
			return false
		},
	}
	return h
}

// ServeWs upgrades an authenticated request. The client still has to send
// an authenticate event before it is reachable.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "err", err)
		return
	}

	client := NewClient(h.hub, conn, sess.UserID, sess.Username)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	// the request context ends when ServeWs returns
	ctx := context.WithoutCancel(r.Context())
	go client.WritePump()
	go client.ReadPump(ctx)
}
