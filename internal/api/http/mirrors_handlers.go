package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kinode-dao/storekeeper/internal/domain/mirror"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// GetMirrors returns the candidate set for a package with the last
// recorded status and latency for each.
func (h *Handlers) GetMirrors(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	listing, ok := h.store.Listing(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found: " + pkg.String()})
		return
	}

	candidates := h.mirrors.Candidates(listing)
	latencies := make(map[string]mirror.LatencyStats)
	for _, m := range candidates {
		if stats, ok := h.mirrors.LatencyFor(m); ok {
			latencies[m] = stats
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"candidates":     candidates,
		"statuses":       h.store.MirrorStatuses(pkg),
		"custom_mirrors": h.store.CustomMirrors(pkg),
		"latencies":      latencies,
	})
}

// SelectMirror runs a full selection round and reports the winner.
// Statuses recorded along the way stay in the store either way.
func (h *Handlers) SelectMirror(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	listing, ok := h.store.Listing(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found: " + pkg.String()})
		return
	}

	sel, err := h.mirrors.SelectMirror(c.Request.Context(), listing)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      err.Error(),
			"candidates": sel.Candidates,
			"statuses":   sel.Statuses,
		})
		return
	}
	c.JSON(http.StatusOK, sel)
}

type mirrorRequest struct {
	Mirror string `json:"mirror" binding:"required"`
}

// AddMirror registers a custom mirror for a package.
func (h *Handlers) AddMirror(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req mirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mirror is required"})
		return
	}
	h.store.AddCustomMirror(pkg, req.Mirror)
	c.JSON(http.StatusOK, gin.H{"custom_mirrors": h.store.CustomMirrors(pkg)})
}

// RemoveMirror drops a custom mirror from a package.
func (h *Handlers) RemoveMirror(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req mirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mirror is required"})
		return
	}
	h.store.RemoveCustomMirror(pkg, req.Mirror)
	c.JSON(http.StatusOK, gin.H{"custom_mirrors": h.store.CustomMirrors(pkg)})
}

// ScanMirror lists the archive hashes an HTTP origin serves for a
// package, read from the origin's directory index.
func (h *Handlers) ScanMirror(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	origin := c.Query("mirror")
	if origin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mirror query parameter is required"})
		return
	}
	if !types.IsHTTPMirror(origin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only http mirrors can be scanned"})
		return
	}

	hashes, err := h.mirrors.ScanOrigin(c.Request.Context(), pkg, origin)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mirror": origin, "archives": hashes, "count": len(hashes)})
}

// MirrorCheck re-probes a single mirror on demand.
func (h *Handlers) MirrorCheck(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	node := c.Param("node")
	status := h.mirrors.ProbeOne(c.Request.Context(), pkg, node)

	body := gin.H{"node": node, "status": status}
	if stats, ok := h.mirrors.LatencyFor(node); ok {
		body["latency"] = stats
	}
	c.JSON(http.StatusOK, body)
}
