package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vigilops/vigil-core/internal/middleware"
	"github.com/vigilops/vigil-core/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // auth happens via token, not origin
	},
}

type StreamHandler struct {
	Hub    *notify.Hub
	Tokens middleware.TokenValidator
}

func NewStreamHandler(hub *notify.Hub, tokens middleware.TokenValidator) *StreamHandler {
	return &StreamHandler{Hub: hub, Tokens: tokens}
}

// GET /api/v1/alerts/stream?token=...
// Browsers cannot set headers on websocket dials, so auth rides a
// query param and is checked before the upgrade.
func (h *StreamHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.Tokens.Validate(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] Stream: upgrade failed: %v", err)
		return
	}

	log.Printf("[INFO] Stream: %s connected to alert stream", claims.Subject)
	h.Hub.Register(conn)
}
