package ws

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds to localhost; the UI origin varies by port.
		return true
	},
}

// Handler upgrades gateway requests into relay subscriptions.
type Handler struct {
	hub     *Hub
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a handler feeding subscribers into hub.
func NewHandler(hub *Hub, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{hub: hub, metrics: metrics, logger: logger}
}

// HandleConnection serves one subscriber until it hangs up.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := h.hub.add(conn)
	defer h.hub.remove(cl)

	hello, err := sonic.Marshal(map[string]any{
		"kind": "hello",
		"data": map[string]string{"connection_id": string(cl.id)},
	})
	if err == nil {
		if err := cl.write(hello); err != nil {
			return
		}
	}

	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var msg struct {
			Kind string `json:"kind"`
		}
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Kind)

		if msg.Kind == "ping" {
			pong, err := sonic.Marshal(map[string]string{"kind": "pong"})
			if err == nil {
				if err := cl.write(pong); err != nil {
					return
				}
			}
		}
	}
}
