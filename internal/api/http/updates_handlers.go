package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListUpdates returns the failure ledger and its derived summaries.
func (h *Handlers) ListUpdates(c *gin.Context) {
	summaries := h.updates.Summaries()
	c.JSON(http.StatusOK, gin.H{
		"updates":   h.updates.Updates(),
		"summaries": summaries,
		"count":     len(summaries),
	})
}

// ClearUpdates wipes the ledger for one package. The local ledger is
// cleared even when the daemon cannot be reached, so the response
// distinguishes the two outcomes.
func (h *Handlers) ClearUpdates(c *gin.Context) {
	pkg, ok := h.packageID(c)
	if !ok {
		return
	}
	if err := h.updates.Clear(c.Request.Context(), pkg); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           err.Error(),
			"cleared_locally": true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true, "package_id": pkg.String()})
}

// ListNotifications returns the notification feed, newest last.
func (h *Handlers) ListNotifications(c *gin.Context) {
	notifications := h.store.Notifications()
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}

// DismissNotification drops one notification by id.
func (h *Handlers) DismissNotification(c *gin.Context) {
	notifID := c.Param("id")
	if !h.store.DismissNotification(notifID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found: " + notifID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": true})
}

// ClearNotifications empties the notification feed.
func (h *Handlers) ClearNotifications(c *gin.Context) {
	h.store.ClearNotifications()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
