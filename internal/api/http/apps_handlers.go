package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// appView decorates a listing with the derived local state the UI
// renders next to it.
type appView struct {
	types.AppListing
	Status       types.InstallStatus `json:"status"`
	VersionClass types.VersionClass  `json:"version_class"`
}

// ListApps returns every known listing with its derived status.
func (h *Handlers) ListApps(c *gin.Context) {
	listings := h.store.Listings()
	apps := make([]appView, 0, len(listings))
	for _, l := range listings {
		apps = append(apps, appView{
			AppListing:   l,
			Status:       h.installs.Status(l.PackageID),
			VersionClass: h.installs.Classify(l.PackageID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps, "count": len(apps)})
}

// OurApps returns the listings published under our identity.
func (h *Handlers) OurApps(c *gin.Context) {
	apps := make([]appView, 0)
	for _, l := range h.store.Listings() {
		if l.PackageID.Publisher != h.identity {
			continue
		}
		apps = append(apps, appView{
			AppListing:   l,
			Status:       h.installs.Status(l.PackageID),
			VersionClass: h.installs.Classify(l.PackageID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps, "count": len(apps)})
}

// GetApp returns one listing with everything the detail view needs.
func (h *Handlers) GetApp(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	listing, ok := h.store.Listing(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found: " + pkg.String()})
		return
	}

	body := gin.H{
		"app":            listing,
		"status":         h.installs.Status(pkg),
		"version_class":  h.installs.Classify(pkg),
		"mirrors":        h.store.MirrorStatuses(pkg),
		"custom_mirrors": h.store.CustomMirrors(pkg),
	}
	if st, ok := h.store.InstalledFor(pkg); ok {
		body["installed"] = st
	}
	if pending, ok := h.installs.Pending(pkg); ok {
		body["pending_caps"] = gin.H{
			"version_hash":      pending.VersionHash,
			"manifests":         pending.Manifests,
			"requires_approval": pending.RequiresApproval(),
		}
	}
	if summary, ok := h.updates.Summary(pkg); ok {
		body["updates"] = summary
	}
	c.JSON(http.StatusOK, body)
}

// ListInstalled returns the daemon-reported install set.
func (h *Handlers) ListInstalled(c *gin.Context) {
	installed := h.store.Installed()
	c.JSON(http.StatusOK, gin.H{"installed": installed, "count": len(installed)})
}

// GetInstalled returns the install record for one package.
func (h *Handlers) GetInstalled(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	st, ok := h.store.InstalledFor(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not installed: " + pkg.String()})
		return
	}
	c.JSON(http.StatusOK, st)
}

type installRequest struct {
	VersionHash string `json:"version_hash" binding:"required"`
	ApproveCaps bool   `json:"approve_caps"`
}

// InstallApp opens the install flow for a downloaded archive. When
// the manifests request capabilities and the caller did not approve
// them up front, the flow stays open and the response says what was
// requested; a follow-up on the caps endpoint resolves it.
func (h *Handlers) InstallApp(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version_hash is required"})
		return
	}

	pending, err := h.installs.Install(pkg, req.VersionHash)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if pending.RequiresApproval() && !req.ApproveCaps {
		c.JSON(http.StatusConflict, gin.H{
			"error":             types.ErrCapabilityDenied.Error(),
			"manifests":         pending.Manifests,
			"requires_approval": true,
		})
		return
	}

	if err := h.installs.Approve(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"installed":    true,
		"package_id":   pkg.String(),
		"version_hash": req.VersionHash,
	})
}

// GetPendingCaps returns the open capability request for a package.
func (h *Handlers) GetPendingCaps(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	pending, ok := h.installs.Pending(pkg)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending install: " + pkg.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version_hash":      pending.VersionHash,
		"manifests":         pending.Manifests,
		"requires_approval": pending.RequiresApproval(),
	})
}

type capsRequest struct {
	Approved bool `json:"approved"`
}

// ResolveCaps approves or declines an open capability request.
func (h *Handlers) ResolveCaps(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	var req capsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid caps response"})
		return
	}

	if !req.Approved {
		if err := h.installs.Decline(pkg); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"installed": false, "declined": true})
		return
	}

	if err := h.installs.Approve(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installed": true, "package_id": pkg.String()})
}

// UninstallApp removes an installed package. Core system packages
// are refused before anything reaches the daemon.
func (h *Handlers) UninstallApp(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	if err := h.installs.Uninstall(c.Request.Context(), pkg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uninstalled": true, "package_id": pkg.String()})
}

// EnableAutoUpdate turns automatic updates on for a package.
func (h *Handlers) EnableAutoUpdate(c *gin.Context) {
	h.setAutoUpdate(c, true)
}

// DisableAutoUpdate turns automatic updates off for a package.
func (h *Handlers) DisableAutoUpdate(c *gin.Context) {
	h.setAutoUpdate(c, false)
}

func (h *Handlers) setAutoUpdate(c *gin.Context, enable bool) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	if err := h.installs.SetAutoUpdate(c.Request.Context(), pkg, enable); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("auto-update toggled",
		zap.String("package", pkg.String()),
		zap.Bool("enabled", enable))
	c.JSON(http.StatusOK, gin.H{"package_id": pkg.String(), "auto_update": enable})
}

// GetManifest returns the parsed manifests for an archive, serving
// from the local inventory first and falling back to the daemon.
func (h *Handlers) GetManifest(c *gin.Context) {
	pkg, err := types.ParsePackageID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	versionHash := c.Query("version_hash")
	if versionHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version_hash is required"})
		return
	}

	if manifests, err := h.cache.ManifestFor(pkg, versionHash); err == nil {
		c.JSON(http.StatusOK, gin.H{"manifests": manifests, "source": "cache"})
		return
	}
	manifests, err := h.daemon.Manifest(c.Request.Context(), pkg, versionHash)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifests": manifests, "source": "node"})
}
