package http

import (
	"github.com/gin-gonic/gin"

	"github.com/kinode-dao/storekeeper/internal/api/ws"
)

// Register wires every gateway route onto the router. Kept in one
// place so the whole surface reads top to bottom.
func Register(router gin.IRouter, h *Handlers, relay *ws.Handler) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/stats", h.GetStats)

	// Listings
	router.GET("/apps", h.ListApps)
	router.GET("/apps/:id", h.GetApp)
	router.GET("/ourapps", h.OurApps)
	router.GET("/installed", h.ListInstalled)
	router.GET("/installed/:id", h.GetInstalled)

	// Install lifecycle
	router.POST("/apps/:id/install", h.InstallApp)
	router.GET("/apps/:id/caps", h.GetPendingCaps)
	router.POST("/apps/:id/caps", h.ResolveCaps)
	router.DELETE("/apps/:id", h.UninstallApp)
	router.PUT("/apps/:id/auto-update", h.EnableAutoUpdate)
	router.DELETE("/apps/:id/auto-update", h.DisableAutoUpdate)

	// Downloads
	router.POST("/apps/:id/download", h.StartDownload)
	router.GET("/downloads", h.ListDownloads)
	router.GET("/downloads/:id", h.GetDownloads)
	router.POST("/downloads/:id/remove", h.RemoveDownload)
	router.PUT("/downloads/:id/mirror", h.StartMirroring)
	router.DELETE("/downloads/:id/mirror", h.StopMirroring)
	router.GET("/transfers", h.ActiveTransfers)
	router.GET("/manifest", h.GetManifest)

	// Mirrors
	router.GET("/apps/:id/mirrors", h.GetMirrors)
	router.POST("/apps/:id/mirrors", h.AddMirror)
	router.DELETE("/apps/:id/mirrors", h.RemoveMirror)
	router.POST("/apps/:id/mirrors/select", h.SelectMirror)
	router.GET("/apps/:id/mirrors/scan", h.ScanMirror)
	router.GET("/mirrorcheck/:id/:node", h.MirrorCheck)
	router.GET("/mirror/files/:id/:file", h.ServeArchive)

	// Updates
	router.GET("/updates", h.ListUpdates)
	router.POST("/updates/:id/clear", h.ClearUpdates)

	// Notifications
	router.GET("/notifications", h.ListNotifications)
	router.POST("/notifications/:id/dismiss", h.DismissNotification)
	router.DELETE("/notifications", h.ClearNotifications)

	// Publishing
	router.POST("/publish", h.PreparePublish)

	// Maintenance
	router.POST("/refresh", h.Refresh)
	router.POST("/reset", h.Reset)
	router.POST("/logs", h.StreamLogs)

	// Push relay
	router.GET("/ws", relay.HandleConnection)
}
