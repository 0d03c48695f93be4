package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListDownloads returns the download inventory as package directories.
func (h *Handlers) ListDownloads(c *gin.Context) {
	items := h.store.Downloads()
	c.JSON(http.StatusOK, gin.H{"entries": items, "count": len(items)})
}

// GetDownloads returns the archive entries for one package.
func (h *Handlers) GetDownloads(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	items := h.store.DownloadsFor(pkg)
	c.JSON(http.StatusOK, gin.H{"entries": items, "count": len(items)})
}

// ActiveTransfers returns the in-flight download map keyed by
// package and version hash.
func (h *Handlers) ActiveTransfers(c *gin.Context) {
	active := h.store.Active()
	c.JSON(http.StatusOK, gin.H{"active": active, "count": len(active)})
}

type downloadRequest struct {
	VersionHash  string `json:"version_hash"`
	DownloadFrom string `json:"download_from"`
}

// StartDownload kicks off a transfer. When no mirror is named the
// prober picks one; when no version hash is named the listing's
// current version is used. The response only confirms initiation,
// progress arrives over the relay.
func (h *Handlers) StartDownload(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid download request"})
		return
	}

	listing, ok := h.store.Listing(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found: " + pkg.String()})
		return
	}

	versionHash := req.VersionHash
	if versionHash == "" {
		if listing.Metadata == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no metadata to resolve a version from, pass version_hash"})
			return
		}
		props := listing.Metadata.Properties
		hash, ok := props.HashFor(props.CurrentVersion)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current version has no content hash, pass version_hash"})
			return
		}
		versionHash = hash
	}

	mirrorAddr := req.DownloadFrom
	if mirrorAddr == "" {
		sel, err := h.mirrors.SelectMirror(c.Request.Context(), listing)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":      err.Error(),
				"candidates": sel.Candidates,
				"statuses":   sel.Statuses,
			})
			return
		}
		mirrorAddr = sel.Mirror
	}

	if err := h.transfers.Start(c.Request.Context(), pkg, versionHash, mirrorAddr); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"package_id":   pkg.String(),
		"version_hash": versionHash,
		"mirror":       mirrorAddr,
		"started":      true,
	})
}

type removeDownloadRequest struct {
	VersionHash string `json:"version_hash" binding:"required"`
}

// RemoveDownload deletes a downloaded archive locally and on the
// daemon. An archive that only exists in the local cache is still
// removed when the daemon does not know it.
func (h *Handlers) RemoveDownload(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req removeDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version_hash is required"})
		return
	}

	cached := h.cache.Has(pkg, req.VersionHash)
	if cached {
		if err := h.cache.Remove(pkg, req.VersionHash); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if err := h.daemon.RemoveDownload(c.Request.Context(), pkg, req.VersionHash); err != nil {
		if !cached {
			h.respondError(c, err)
			return
		}
		h.logger.Debug("daemon removal failed after local removal",
			zap.String("package", pkg.String()),
			zap.Error(err))
	}
	h.store.RemoveDownload(pkg, req.VersionHash)
	c.JSON(http.StatusOK, gin.H{"removed": true, "package_id": pkg.String()})
}

// StartMirroring begins re-serving a package's archives.
func (h *Handlers) StartMirroring(c *gin.Context) {
	h.setMirroring(c, true)
}

// StopMirroring stops re-serving a package's archives.
func (h *Handlers) StopMirroring(c *gin.Context) {
	h.setMirroring(c, false)
}

func (h *Handlers) setMirroring(c *gin.Context, enable bool) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	if err := h.installs.SetMirroring(c.Request.Context(), pkg, enable); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"package_id": pkg.String(), "mirroring": enable})
}

// ServeArchive serves a cached archive to other nodes over HTTP.
// Only packages with mirroring switched on are served, so turning
// the toggle off takes effect immediately.
func (h *Handlers) ServeArchive(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	st, ok := h.store.InstalledFor(pkg)
	if !ok || !st.Mirroring {
		c.JSON(http.StatusForbidden, gin.H{"error": "not mirroring " + pkg.String()})
		return
	}

	file := c.Param("file")
	versionHash := strings.TrimSuffix(file, ".zip")
	if versionHash == file || versionHash == "" || strings.ContainsAny(versionHash, "/\\.") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed archive name"})
		return
	}
	if !h.cache.Has(pkg, versionHash) {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not cached: " + file})
		return
	}
	c.File(h.cache.PathFor(pkg, versionHash))
}
