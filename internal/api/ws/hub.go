package ws

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/id"
)

const writeTimeout = 10 * time.Second

// client is one relay subscriber. Writes are serialized; the
// websocket allows a single concurrent writer.
type client struct {
	id   id.ConnectionID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans events out to connected relay subscribers.
type Hub struct {
	metrics *monitoring.Metrics
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[id.ConnectionID]*client
}

// NewHub creates an empty hub.
func NewHub(metrics *monitoring.Metrics, logger *logging.Logger) *Hub {
	return &Hub{
		metrics: metrics,
		logger:  logger,
		clients: make(map[id.ConnectionID]*client),
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends one event to every subscriber, dropping
// connections whose writes fail.
func (h *Hub) Broadcast(kind string, data any) {
	payload, err := sonic.Marshal(map[string]any{"kind": kind, "data": data})
	if err != nil {
		h.logger.Error("relay event marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		subscribers = append(subscribers, cl)
	}
	h.mu.RUnlock()

	for _, cl := range subscribers {
		if err := cl.write(payload); err != nil {
			h.logger.Debug("dropping relay subscriber",
				zap.String("connection_id", string(cl.id)),
				zap.Error(err))
			h.remove(cl)
			continue
		}
		h.metrics.RecordWSMessage("out", kind)
	}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	cl := &client{id: id.NewConnectionID(), conn: conn}
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	h.metrics.IncWSConnections()
	h.logger.Debug("relay subscriber connected", zap.String("connection_id", string(cl.id)))
	return cl
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	_, present := h.clients[cl.id]
	delete(h.clients, cl.id)
	h.mu.Unlock()
	if !present {
		return
	}
	h.metrics.DecWSConnections()
	cl.conn.Close()
}
