package download

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/archive"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Starter asks the daemon to pull an archive from a node mirror.
type Starter interface {
	StartDownload(ctx context.Context, id types.PackageID, versionHash, downloadFrom string) error
}

// Refresher reloads a package's views after a successful transfer.
type Refresher interface {
	RefreshPackage(ctx context.Context, pkg types.PackageID)
}

// ProgressObserver receives applied progress updates.
type ProgressObserver func(types.ProgressData)

// CompleteObserver receives terminal transfer events.
type CompleteObserver func(types.CompleteData)

// Coordinator owns the transfer lifecycle for both mirror kinds. Node
// mirrors go through the daemon, which reports back over the push
// channel; HTTP origins are fetched directly and fed through the same
// event path so consumers cannot tell the difference.
type Coordinator struct {
	starter Starter
	fetcher *Fetcher
	cache   *Cache
	store   *state.Store
	metrics *monitoring.Metrics
	logger  *logging.Logger

	mu         sync.RWMutex
	refresher  Refresher
	onProgress []ProgressObserver
	onComplete []CompleteObserver

	transfers sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(starter Starter, fetcher *Fetcher, cache *Cache, store *state.Store, metrics *monitoring.Metrics, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		starter: starter,
		fetcher: fetcher,
		cache:   cache,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// SetRefresher wires the post-completion view refresh. Optional.
func (c *Coordinator) SetRefresher(r Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresher = r
}

// OnProgress registers an observer for applied progress updates.
func (c *Coordinator) OnProgress(fn ProgressObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = append(c.onProgress, fn)
}

// OnComplete registers an observer for terminal events.
func (c *Coordinator) OnComplete(fn CompleteObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = append(c.onComplete, fn)
}

// Start begins a transfer from the given mirror. An optimistic entry
// appears immediately; if the initiating call fails it is rolled back
// on the spot, since no terminal event will ever arrive for it.
func (c *Coordinator) Start(ctx context.Context, pkg types.PackageID, versionHash, mirror string) error {
	if versionHash == "" {
		return fmt.Errorf("start download %s: version hash required", pkg)
	}
	if mirror == "" {
		return fmt.Errorf("start download %s: mirror required", pkg)
	}

	key := pkg.DownloadKey(versionHash)
	c.store.StartActive(key, 100)
	c.metrics.SetActiveTransfers(len(c.store.Active()))

	if types.IsHTTPMirror(mirror) {
		c.metrics.RecordDownloadStarted("http")
		c.transfers.Add(1)
		go c.fetchFromOrigin(pkg, versionHash, mirror)
		return nil
	}

	c.metrics.RecordDownloadStarted("node")
	if err := c.starter.StartDownload(ctx, pkg, versionHash, mirror); err != nil {
		c.store.DropActive(key)
		c.metrics.SetActiveTransfers(len(c.store.Active()))
		c.metrics.RecordDownloadCompleted("rejected")
		return fmt.Errorf("start download %s from %s: %w", pkg, mirror, err)
	}
	return nil
}

// Wait blocks until direct transfers in flight have finished.
func (c *Coordinator) Wait() {
	c.transfers.Wait()
}

// fetchFromOrigin runs a direct HTTP transfer end to end and emits
// the same progress/complete events the daemon would.
func (c *Coordinator) fetchFromOrigin(pkg types.PackageID, versionHash, origin string) {
	defer c.transfers.Done()
	// A transfer outlives the view that started it; only process
	// shutdown or its own timeouts stop it.
	ctx := context.Background()

	staged := c.cache.TempPath(pkg, versionHash)
	err := c.fetcher.Fetch(ctx, origin, pkg, versionHash, staged, func(downloaded, total uint64) {
		c.applyProgress(types.ProgressData{
			PackageID:   pkg,
			VersionHash: versionHash,
			Downloaded:  downloaded,
			Total:       total,
		})
	})
	if err == nil {
		err = archive.Verify(staged, versionHash)
	}
	if err == nil {
		err = c.cache.Commit(pkg, versionHash, staged)
	}

	done := types.CompleteData{PackageID: pkg, VersionHash: versionHash}
	if err != nil {
		os.Remove(staged)
		done.Error = types.FromError(err)
		c.logger.Warn("direct fetch failed",
			zap.String("package", pkg.String()),
			zap.String("origin", origin),
			zap.Error(err))
	}
	c.applyComplete(ctx, done)
}

// HandleEvent applies one push-channel event in arrival order.
func (c *Coordinator) HandleEvent(evt types.PushEvent) {
	switch evt.Kind {
	case types.KindProgress:
		var p types.ProgressData
		if err := sonic.Unmarshal(evt.Data, &p); err != nil {
			c.logger.Warn("bad progress payload", zap.Error(err))
			return
		}
		c.applyProgress(p)
	case types.KindComplete:
		var done types.CompleteData
		if err := sonic.Unmarshal(evt.Data, &done); err != nil {
			c.logger.Warn("bad complete payload", zap.Error(err))
			return
		}
		c.applyComplete(context.Background(), done)
	}
}

func (c *Coordinator) applyProgress(p types.ProgressData) {
	if !c.store.Progress(p.Key(), p.Downloaded, p.Total) {
		// The transfer already completed; a late event changes nothing.
		return
	}
	c.mu.RLock()
	observers := append([]ProgressObserver{}, c.onProgress...)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(p)
	}
}

func (c *Coordinator) applyComplete(ctx context.Context, done types.CompleteData) {
	c.store.Complete(done.Key())
	c.metrics.SetActiveTransfers(len(c.store.Active()))
	c.metrics.RecordDownloadCompleted(outcomeFor(done.Error))

	if done.Error == nil {
		if items, err := c.cache.Items(done.PackageID); err == nil && len(items) > 0 {
			c.store.SetDownloads(done.PackageID, items)
		}
		c.mu.RLock()
		refresher := c.refresher
		c.mu.RUnlock()
		if refresher != nil {
			refresher.RefreshPackage(ctx, done.PackageID)
		}
	}
	c.notify(done)

	c.mu.RLock()
	observers := append([]CompleteObserver{}, c.onComplete...)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(done)
	}
}

func outcomeFor(derr *types.DownloadError) string {
	switch {
	case derr == nil:
		return "success"
	case derr.Kind == types.DownloadHashMismatch:
		return "hash_mismatch"
	case derr.Kind == types.DownloadTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// notify translates a terminal event into a user-visible message.
// Hashes are clipped to their first 8 characters for display.
func (c *Coordinator) notify(done types.CompleteData) {
	pkg := done.PackageID
	if done.Error == nil {
		c.store.Notify(types.NotifySuccess,
			fmt.Sprintf("Downloaded %s (%s)", pkg, types.ShortHash(done.VersionHash)))
		return
	}

	var msg string
	switch done.Error.Kind {
	case types.DownloadHashMismatch:
		msg = fmt.Sprintf("Download failed for %s: hash mismatch, wanted %s got %s",
			pkg, types.ShortHash(done.Error.Desired), types.ShortHash(done.Error.Actual))
	case types.DownloadTimeout:
		msg = fmt.Sprintf("Download failed for %s: mirror timed out", pkg)
	default:
		msg = fmt.Sprintf("Download failed for %s: %s", pkg, done.Error.Error())
	}
	c.store.Notify(types.NotifyError, msg)
}
