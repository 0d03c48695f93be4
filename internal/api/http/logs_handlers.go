package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// uiLogEntry is one frontend log line forwarded to the agent.
type uiLogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
}

type uiLogBatch struct {
	Entries []uiLogEntry `json:"entries" binding:"required"`
}

// StreamLogs folds batched frontend logs into the agent's own log
// stream so one tail covers both sides of the gateway.
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req uiLogBatch
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entries are required"})
		return
	}

	ui := h.logger.Component("ui")
	for _, entry := range req.Entries {
		fields := make([]zap.Field, 0, len(entry.Context))
		for key, value := range entry.Context {
			fields = append(fields, zap.Any(key, value))
		}
		switch entry.Level {
		case "error":
			ui.Error(entry.Message, fields...)
		case "warn":
			ui.Warn(entry.Message, fields...)
		case "debug":
			ui.Debug(entry.Message, fields...)
		default:
			ui.Info(entry.Message, fields...)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  len(req.Entries),
		"timestamp": time.Now().Unix(),
	})
}
