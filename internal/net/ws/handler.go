// Package ws streams HUD frames to a player's client over a websocket.
package ws

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	server "github.com/Ruskei/BetterHud"
	"github.com/Ruskei/BetterHud/internal/telemetry"
)

type clientMessage struct {
	Type string `json:"type"`
}

type subscription interface {
	WriteMessage(messageType int, data []byte) error
}

// HandlerConfig configures the websocket handler.
type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades /hud requests and serves one stream per player.
type Handler struct {
	hub      *server.Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}
	h.Serve(playerID, conn)
}

// Serve sends the current frame and then keeps the stream open until the
// client goes away. Frames for later ticks are pushed by the hub.
func (h *Handler) Serve(playerID string, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	sub, frame, ok := h.hub.Subscribe(playerID, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	defer h.hub.Unsubscribe(playerID, sub)

	session := subscription(sub)
	data, err := h.hub.MarshalFrame(frame)
	if err != nil {
		h.logger.Printf("failed to marshal initial frame for %s: %v", playerID, err)
		return
	}
	if err := session.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			continue
		}

		switch msg.Type {
		case "refresh":
			current, ok := h.hub.Engine().Frame(playerID)
			if !ok {
				return
			}
			data, err := h.hub.MarshalFrame(current)
			if err != nil {
				h.logger.Printf("failed to marshal frame for %s: %v", playerID, err)
				continue
			}
			if err := session.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, playerID)
		}
	}
}
