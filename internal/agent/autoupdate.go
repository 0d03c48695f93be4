package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/shared/archive"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// sweepAutoUpdates scans installed packages after a successful sync and
// launches update attempts for any that fell behind their listing. At
// most one sweep runs at a time; downloads can outlive a sync tick.
func (a *Agent) sweepAutoUpdates(ctx context.Context) {
	if !a.sweeping.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer a.sweeping.Store(false)
		for _, st := range a.store.Installed() {
			if ctx.Err() != nil {
				return
			}
			if !st.AutoUpdate {
				continue
			}
			if a.installs.Classify(st.PackageID) != types.VersionOutdated {
				continue
			}
			listing, ok := a.store.Listing(st.PackageID)
			if !ok || listing.Metadata == nil {
				continue
			}
			props := listing.Metadata.Properties
			versionHash, ok := props.HashFor(props.CurrentVersion)
			if !ok || versionHash == st.OurVersionHash {
				continue
			}
			a.runAutoUpdate(ctx, listing, st, versionHash)
		}
	}()
}

// runAutoUpdate fetches one release over the package's mirrors and, if
// the manifest did not change, installs it without user involvement.
func (a *Agent) runAutoUpdate(ctx context.Context, listing types.AppListing, st types.PackageState, versionHash string) {
	pkg := listing.PackageID
	a.logger.Info("auto-update starting",
		zap.String("package", pkg.String()),
		zap.String("version_hash", types.ShortHash(versionHash)))

	if err := a.fallback.Run(ctx, pkg, versionHash, a.prober.Candidates(listing)); err != nil {
		a.logger.Warn("auto-update failed",
			zap.String("package", pkg.String()),
			zap.Error(err))
		return
	}

	// A changed manifest was recorded for review; stop short of install.
	if versions, ok := a.tracker.For(pkg); ok {
		if info, ok := versions[versionHash]; ok && info.PendingManifestHash != "" {
			return
		}
	}

	pending, err := a.installs.Install(pkg, versionHash)
	if err != nil {
		a.logger.Warn("auto-update install failed",
			zap.String("package", pkg.String()),
			zap.Error(err))
		return
	}
	if pending.RequiresApproval() && !st.CapsApproved {
		a.store.Notify(types.NotifyWarning,
			fmt.Sprintf("Update for %s needs capability approval", pkg))
		return
	}

	ictx, cancel := context.WithTimeout(ctx, a.cfg.Node.Timeout)
	defer cancel()
	if err := a.installs.Approve(ictx, pkg); err != nil {
		a.logger.Warn("auto-update approval failed",
			zap.String("package", pkg.String()),
			zap.Error(err))
		return
	}
	a.logger.Info("auto-update installed",
		zap.String("package", pkg.String()),
		zap.String("version_hash", types.ShortHash(versionHash)))
}

// attemptUpdate is the fallback runner's per-mirror attempt. It starts
// a transfer through the coordinator, waits for the terminal event, and
// returns the keccak hash of the fetched manifest so the runner can
// detect manifest changes.
func (a *Agent) attemptUpdate(ctx context.Context, pkg types.PackageID, versionHash, mirror string) (string, error) {
	done, cancel := a.awaitComplete(pkg.DownloadKey(versionHash))
	defer cancel()

	if err := a.transfers.Start(ctx, pkg, versionHash, mirror); err != nil {
		return "", err
	}

	timeout := a.cfg.Transfer.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case derr := <-done:
		if derr != nil {
			return "", derr
		}
	case <-timer.C:
		return "", types.NewTimeout()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return a.manifestHashFor(pkg, versionHash)
}

// manifestHashFor hashes the stored manifest text of a downloaded
// archive. The inventory is populated before completion observers run,
// so this is available as soon as attemptUpdate's wait returns.
func (a *Agent) manifestHashFor(pkg types.PackageID, versionHash string) (string, error) {
	want := versionHash + ".zip"
	for _, item := range a.store.DownloadsFor(pkg) {
		if item.File != nil && item.File.Name == want && item.File.Manifest != "" {
			return archive.HashManifest([]byte(item.File.Manifest)), nil
		}
	}
	return "", types.NewHandlingError("downloaded archive has no stored manifest")
}

// awaitComplete registers a one-shot channel that receives the terminal
// event for one transfer key. The returned cancel deregisters it.
func (a *Agent) awaitComplete(key string) (<-chan *types.DownloadError, func()) {
	ch := make(chan *types.DownloadError, 1)
	a.mu.Lock()
	a.waiters[key] = append(a.waiters[key], ch)
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		chans := a.waiters[key]
		for i, c := range chans {
			if c == ch {
				a.waiters[key] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(a.waiters[key]) == 0 {
			delete(a.waiters, key)
		}
	}
	return ch, cancel
}

func (a *Agent) resolveWaiters(done types.CompleteData) {
	key := done.Key()
	a.mu.Lock()
	chans := a.waiters[key]
	delete(a.waiters, key)
	a.mu.Unlock()
	for _, ch := range chans {
		ch <- done.Error
	}
}
