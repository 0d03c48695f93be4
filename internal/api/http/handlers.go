package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/api/ws"
	"github.com/kinode-dao/storekeeper/internal/domain/download"
	"github.com/kinode-dao/storekeeper/internal/domain/install"
	"github.com/kinode-dao/storekeeper/internal/domain/mirror"
	"github.com/kinode-dao/storekeeper/internal/domain/publish"
	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/domain/update"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/resilience"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Daemon is the slice of the node API the gateway forwards directly.
// Everything else is answered from the local store.
type Daemon interface {
	RemoveDownload(ctx context.Context, id types.PackageID, versionHash string) error
	Manifest(ctx context.Context, id types.PackageID, versionHash string) ([]types.PackageManifest, error)
	Reset(ctx context.Context) error
	BreakerState() resilience.State
}

// Syncer re-pulls daemon state into the local store.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Deps carries everything the handlers answer from.
type Deps struct {
	Identity  string
	Store     *state.Store
	Installs  *install.Manager
	Updates   *update.Tracker
	Mirrors   *mirror.Prober
	Transfers *download.Coordinator
	Cache     *download.Cache
	Daemon    Daemon
	Syncer    Syncer
	Publisher *publish.Encoder
	Registry  publish.RegistryReader
	Hub       *ws.Hub
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
}

// Handlers contains the HTTP request handlers for the gateway API.
type Handlers struct {
	identity  string
	store     *state.Store
	installs  *install.Manager
	updates   *update.Tracker
	mirrors   *mirror.Prober
	transfers *download.Coordinator
	cache     *download.Cache
	daemon    Daemon
	syncer    Syncer
	publisher *publish.Encoder
	registry  publish.RegistryReader
	hub       *ws.Hub
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	started   time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		identity:  deps.Identity,
		store:     deps.Store,
		installs:  deps.Installs,
		updates:   deps.Updates,
		mirrors:   deps.Mirrors,
		transfers: deps.Transfers,
		cache:     deps.Cache,
		daemon:    deps.Daemon,
		syncer:    deps.Syncer,
		publisher: deps.Publisher,
		registry:  deps.Registry,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Component("gateway"),
		started:   time.Now(),
	}
}

// Root handles the root endpoint.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "storekeeper",
		"identity": h.identity,
		"status":   "running",
	})
}

// Health reports gateway liveness and the daemon connection state.
// The gateway stays healthy while the daemon is down because it keeps
// answering from the local store; the breaker state tells the UI why
// mutations might fail.
func (h *Handlers) Health(c *gin.Context) {
	daemonState := h.daemon.BreakerState()
	status := "healthy"
	if daemonState == resilience.StateOpen {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"daemon":         daemonState.String(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"subscribers":    h.hub.Count(),
		"packages":       len(h.store.Listings()),
	})
}

// Refresh forces a full re-pull of daemon state.
func (h *Handlers) Refresh(c *gin.Context) {
	if err := h.syncer.Sync(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true})
}

// Reset asks the daemon to rebuild its package state from chain and
// disk, then re-pulls the result.
func (h *Handlers) Reset(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.daemon.Reset(ctx); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.syncer.Sync(ctx); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// packageID parses the :id path parameter, answering 400 itself on
// malformed input.
func (h *Handlers) packageID(c *gin.Context) (types.PackageID, bool) {
	pkg, err := types.ParsePackageID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return types.PackageID{}, false
	}
	return pkg, true
}

// respondError maps domain errors onto status codes so every handler
// reports failures the same way.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrProtectedPackage):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrCapabilityDenied):
		status = http.StatusConflict
	case errors.Is(err, types.ErrManifestParse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrNoMirrors):
		status = http.StatusServiceUnavailable
	case errors.Is(err, publish.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, publish.ErrNoPublisherIdentity):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
