package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatsSnapshot is the aggregated view of what the agent is doing,
// assembled fresh per request from the metrics collector and the
// state store.
type StatsSnapshot struct {
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Requests      RequestStats `json:"requests"`
	Packages      PackageStats `json:"packages"`
	Daemon        string       `json:"daemon"`
	Subscribers   int          `json:"subscribers"`
}

// RequestStats summarizes gateway HTTP traffic.
type RequestStats struct {
	Total            int64   `json:"total"`
	Errors           int64   `json:"errors"`
	ErrorRate        float64 `json:"error_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// PackageStats counts what the store currently holds.
type PackageStats struct {
	Listed          int `json:"listed"`
	Installed       int `json:"installed"`
	Downloaded      int `json:"downloaded"`
	ActiveTransfers int `json:"active_transfers"`
	Notifications   int `json:"notifications"`
}

// GetStats returns the aggregated snapshot.
func (h *Handlers) GetStats(c *gin.Context) {
	m := h.metrics.GetSnapshot()

	requests := RequestStats{
		Total:  m.TotalRequests,
		Errors: m.TotalErrors,
	}
	if m.TotalRequests > 0 {
		requests.ErrorRate = float64(m.TotalErrors) / float64(m.TotalRequests)
	}
	if m.RequestCount > 0 {
		requests.AverageLatencyMs = m.TotalDuration / float64(m.RequestCount) * 1000
	}

	c.JSON(http.StatusOK, StatsSnapshot{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(h.started).Seconds(),
		Requests:      requests,
		Packages: PackageStats{
			Listed:          len(h.store.Listings()),
			Installed:       len(h.store.Installed()),
			Downloaded:      len(h.store.Downloads()),
			ActiveTransfers: len(h.store.Active()),
			Notifications:   len(h.store.Notifications()),
		},
		Daemon:      h.daemon.BreakerState().String(),
		Subscribers: h.hub.Count(),
	})
}
