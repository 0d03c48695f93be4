// Package agent assembles the storekeeper process: the daemon client,
// the push listener, the domain services, and the local UI gateway.
// It owns the run loop that keeps the in-memory store synchronized
// with the daemon and drives automatic updates.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	apihttp "github.com/kinode-dao/storekeeper/internal/api/http"
	"github.com/kinode-dao/storekeeper/internal/api/ws"
	"github.com/kinode-dao/storekeeper/internal/chain"
	"github.com/kinode-dao/storekeeper/internal/domain/download"
	"github.com/kinode-dao/storekeeper/internal/domain/install"
	"github.com/kinode-dao/storekeeper/internal/domain/mirror"
	"github.com/kinode-dao/storekeeper/internal/domain/publish"
	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/domain/update"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/config"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/server"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/tracing"
	"github.com/kinode-dao/storekeeper/internal/node"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Agent wires every component together and runs the process lifecycle.
type Agent struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	store     *state.Store
	node      *node.Client
	listener  *node.Listener
	cache     *download.Cache
	transfers *download.Coordinator
	installs  *install.Manager
	tracker   *update.Tracker
	fallback  *update.Runner
	prober    *mirror.Prober
	hub       *ws.Hub
	server    *server.Server

	sanitizer *bluemonday.Policy

	mu       sync.Mutex
	waiters  map[string][]chan *types.DownloadError
	sweeping atomic.Bool
}

// New builds an agent from configuration. The daemon does not have to
// be reachable yet; connections are established when Run starts.
func New(cfg *config.Config) (*Agent, error) {
	return newAgent(cfg, monitoring.NewMetrics())
}

func newAgent(cfg *config.Config, metrics *monitoring.Metrics) (*Agent, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else if l, err := logging.New(logging.Config{Level: cfg.Logging.Level, OutputPaths: []string{"stdout"}}); err == nil {
		logger = l
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing storekeeper agent",
		zap.String("identity", cfg.Node.Identity),
		zap.String("node_url", cfg.Node.BaseURL),
		zap.String("gateway", net.JoinHostPort(cfg.Gateway.Host, cfg.Gateway.Port)))

	tracer := tracing.New("storekeeper", logger.Logger)
	store := state.NewStore()

	nodeClient := node.New(cfg.Node, cfg.Client, metrics, logger)

	cache, err := download.NewCache(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("open archive cache: %w", err)
	}

	fetcher := download.NewFetcher(resty.New().SetTimeout(cfg.Transfer.Timeout), cfg.Transfer.ChunkSize, metrics, logger)
	transfers := download.NewCoordinator(nodeClient, fetcher, cache, store, metrics, logger)

	installs := install.NewManager(nodeClient, store, metrics, logger)
	tracker := update.NewTracker(nodeClient, logger)
	prober := mirror.NewProber(nodeClient, store, cfg.Probe.Timeout, metrics, logger)
	hub := ws.NewHub(metrics, logger)

	registryAddr, err := chain.ParseAddress(cfg.Chain.Registry)
	if err != nil {
		return nil, fmt.Errorf("registry address: %w", err)
	}
	multicallAddr, err := chain.ParseAddress(cfg.Chain.Multicall)
	if err != nil {
		return nil, fmt.Errorf("multicall address: %w", err)
	}
	implAddr, err := chain.ParseAddress(cfg.Chain.AccountImpl)
	if err != nil {
		return nil, fmt.Errorf("account implementation address: %w", err)
	}
	reader := chain.NewReader(cfg.Chain.RPCURL, registryAddr, cfg.Node.Timeout, logger)
	encoder := publish.NewEncoder(registryAddr, multicallAddr, implAddr)

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		store:     store,
		node:      nodeClient,
		cache:     cache,
		transfers: transfers,
		installs:  installs,
		tracker:   tracker,
		prober:    prober,
		hub:       hub,
		sanitizer: bluemonday.StrictPolicy(),
		waiters:   make(map[string][]chan *types.DownloadError),
	}

	a.listener = node.NewListener(cfg.Node.PushURL, a.handlePush, metrics, logger)
	a.fallback = update.NewRunner(tracker, store, a.attemptUpdate, logger)

	transfers.SetRefresher(a)
	transfers.OnProgress(func(p types.ProgressData) {
		hub.Broadcast(types.KindProgress, p)
	})
	transfers.OnComplete(func(done types.CompleteData) {
		a.resolveWaiters(done)
		hub.Broadcast(types.KindComplete, done)
	})

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Identity:  cfg.Node.Identity,
		Store:     store,
		Installs:  installs,
		Updates:   tracker,
		Mirrors:   prober,
		Transfers: transfers,
		Cache:     cache,
		Daemon:    nodeClient,
		Syncer:    a,
		Publisher: encoder,
		Registry:  reader,
		Hub:       hub,
		Metrics:   metrics,
		Logger:    logger,
	})
	relay := ws.NewHandler(hub, metrics, logger)
	a.server = server.New(cfg, handlers, relay, tracer, metrics, logger)

	logger.Info("agent initialized")
	return a, nil
}

// Run blocks until ctx is cancelled or the gateway server fails. On
// cancellation it drains in-flight transfers and persists a snapshot.
func (a *Agent) Run(ctx context.Context) error {
	a.restore()
	a.rebuildDownloads()

	sctx, cancel := context.WithTimeout(ctx, a.cfg.Node.Timeout)
	if err := a.Sync(sctx); err != nil {
		a.logger.Warn("initial sync failed", zap.Error(err))
	}
	cancel()

	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		if err := a.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("push listener stopped", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Run()
	}()
	a.logger.Info("gateway listening", zap.String("addr", a.server.Addr()))

	refresh := time.NewTicker(a.cfg.Sync.Interval)
	defer refresh.Stop()
	persist := time.NewTicker(a.snapshotInterval())
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			err := a.shutdown()
			<-pushDone
			return err
		case err := <-serverErr:
			return fmt.Errorf("gateway server: %w", err)
		case <-refresh.C:
			sctx, cancel := context.WithTimeout(ctx, a.cfg.Node.Timeout)
			err := a.Sync(sctx)
			cancel()
			if err != nil {
				a.logger.Warn("periodic sync failed", zap.Error(err))
				continue
			}
			a.sweepAutoUpdates(ctx)
		case <-persist.C:
			a.persist()
		}
	}
}

func (a *Agent) snapshotInterval() time.Duration {
	if a.cfg.Sync.SnapshotInterval > 0 {
		return a.cfg.Sync.SnapshotInterval
	}
	return 5 * time.Minute
}

// Sync re-pulls the daemon's listings, install records, download
// inventory, and update ledger into the local store. Metadata strings
// from the chain are untrusted and get sanitized before they can reach
// a UI.
func (a *Agent) Sync(ctx context.Context) error {
	span, ctx := a.tracer.StartSpan(ctx, "agent.sync")
	defer func() {
		span.Finish()
		a.tracer.Submit(span)
	}()

	apps, err := a.node.Apps(ctx)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("sync listings: %w", err)
	}
	for i := range apps {
		apps[i] = a.sanitizeListing(apps[i])
	}
	a.store.UpsertListings(apps)

	installed, err := a.node.Installed(ctx)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("sync installed: %w", err)
	}
	a.store.UpsertInstalled(installed)

	roots, err := a.node.Downloads(ctx)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("sync downloads: %w", err)
	}
	for _, item := range roots {
		if item.Dir == nil {
			continue
		}
		pkg, err := types.ParsePackageID(item.Dir.Name)
		if err != nil {
			a.logger.Debug("skipping unparseable download dir", zap.String("name", item.Dir.Name))
			continue
		}
		a.syncInventory(ctx, pkg)
	}

	ledger, err := a.node.Updates(ctx)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("sync update ledger: %w", err)
	}
	a.tracker.Ingest(ledger)

	a.logger.Debug("sync complete",
		zap.Int("listings", len(apps)),
		zap.Int("installed", len(installed)))
	return nil
}

// RefreshPackage reloads one package's listing, install record, and
// download inventory. Called by the transfer coordinator after a
// completed download, and safe to call any time.
func (a *Agent) RefreshPackage(ctx context.Context, pkg types.PackageID) {
	if app, err := a.node.App(ctx, pkg); err == nil {
		a.store.UpsertListings([]types.AppListing{a.sanitizeListing(*app)})
	} else {
		a.logger.Debug("listing refresh failed", zap.String("package", pkg.String()), zap.Error(err))
	}

	if st, err := a.node.InstalledApp(ctx, pkg); err == nil {
		a.store.SetInstalled(*st)
	} else if errors.Is(err, types.ErrNotFound) {
		a.store.RemoveInstalled(pkg)
	}

	a.syncInventory(ctx, pkg)
}

// syncInventory merges the daemon's download listing for pkg with
// whatever the local archive cache holds. Local entries win on name
// collisions since the cache is authoritative for archives the agent
// fetched itself.
func (a *Agent) syncInventory(ctx context.Context, pkg types.PackageID) {
	remote, err := a.node.DownloadsFor(ctx, pkg)
	if err != nil {
		a.logger.Debug("download inventory fetch failed",
			zap.String("package", pkg.String()), zap.Error(err))
		remote = nil
	}
	local, _ := a.cache.Items(pkg)
	a.store.SetDownloads(pkg, mergeInventory(remote, local))
}

func mergeInventory(remote, local []types.DownloadItem) []types.DownloadItem {
	if len(local) == 0 {
		return remote
	}
	out := make([]types.DownloadItem, 0, len(remote)+len(local))
	byName := make(map[string]int, len(remote))
	for _, item := range remote {
		if item.File != nil {
			byName[item.File.Name] = len(out)
		}
		out = append(out, item)
	}
	for _, item := range local {
		if item.File == nil {
			continue
		}
		if i, ok := byName[item.File.Name]; ok {
			out[i] = item
			continue
		}
		out = append(out, item)
	}
	return out
}

// sanitizeListing strips markup from chain-sourced metadata strings.
func (a *Agent) sanitizeListing(l types.AppListing) types.AppListing {
	if l.Metadata == nil {
		return l
	}
	meta := *l.Metadata
	meta.Name = a.sanitizer.Sanitize(meta.Name)
	meta.Description = a.sanitizer.Sanitize(meta.Description)
	l.Metadata = &meta
	return l
}

func (a *Agent) handlePush(evt types.PushEvent) {
	a.transfers.HandleEvent(evt)
}

// restore loads the persisted snapshot, if any, so the UI has data
// before the first daemon round-trip completes.
func (a *Agent) restore() {
	snap, err := state.Load(a.cfg.Cache.SnapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("snapshot load failed", zap.Error(err))
		}
		return
	}
	a.store.Import(snap)
	a.tracker.Ingest(snap.Updates)
	a.logger.Info("state restored from snapshot",
		zap.Int("listings", len(snap.Listings)),
		zap.Time("saved_at", snap.SavedAt))
}

func (a *Agent) persist() {
	snap := a.store.Export()
	snap.Updates = a.tracker.Updates()
	if err := state.Save(a.cfg.Cache.SnapshotPath, snap); err != nil {
		a.logger.Warn("snapshot save failed", zap.Error(err))
		return
	}
	a.logger.Debug("snapshot saved", zap.String("path", a.cfg.Cache.SnapshotPath))
}

// rebuildDownloads reconciles the archive cache with the store at
// startup. Partial downloads from a previous run are discarded.
func (a *Agent) rebuildDownloads() {
	if n, err := a.cache.Prune("**/*.tmp"); err != nil {
		a.logger.Warn("cache prune failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("discarded stale partial downloads", zap.Int("removed", n))
	}

	tree, err := a.cache.Scan()
	if err != nil {
		a.logger.Warn("cache scan failed", zap.Error(err))
		return
	}
	for pkg, items := range tree {
		a.store.SetDownloads(pkg, items)
	}
}

func (a *Agent) shutdown() error {
	a.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.server.Shutdown(sctx)
	a.transfers.Wait()
	a.persist()
	return err
}
