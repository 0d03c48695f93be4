package update

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Clearer issues the daemon-side ledger clear.
type Clearer interface {
	ClearUpdates(ctx context.Context, id types.PackageID) error
}

// Tracker owns the auto-update failure ledger: package id to
// attempted version hash to its failure record.
type Tracker struct {
	clearer Clearer
	logger  *logging.Logger

	mu     sync.RWMutex
	ledger types.Updates
}

// NewTracker creates an empty tracker.
func NewTracker(clearer Clearer, logger *logging.Logger) *Tracker {
	return &Tracker{
		clearer: clearer,
		logger:  logger,
		ledger:  make(types.Updates),
	}
}

// Ingest merges daemon-reported records into the ledger, replacing
// per package key. Packages absent from the payload keep whatever
// the tracker already holds, so locally recorded attempts survive a
// refresh.
func (t *Tracker) Ingest(updates types.Updates) {
	if len(updates) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for pkg, versions := range updates {
		copied := make(map[string]types.UpdateInfo, len(versions))
		for hash, info := range versions {
			copied[hash] = cloneInfo(info)
		}
		t.ledger[pkg] = copied
	}
}

// Record appends failed attempts for one version of one package.
func (t *Tracker) Record(pkg types.PackageID, versionHash string, attempts ...types.UpdateError) {
	if len(attempts) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	versions, ok := t.ledger[pkg.String()]
	if !ok {
		versions = make(map[string]types.UpdateInfo)
		t.ledger[pkg.String()] = versions
	}
	info := versions[versionHash]
	info.Errors = append(info.Errors, attempts...)
	versions[versionHash] = info
}

// SetPendingManifest marks a fetched update as waiting for manual
// manifest review before it may be installed.
func (t *Tracker) SetPendingManifest(pkg types.PackageID, versionHash, manifestHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	versions, ok := t.ledger[pkg.String()]
	if !ok {
		versions = make(map[string]types.UpdateInfo)
		t.ledger[pkg.String()] = versions
	}
	info := versions[versionHash]
	info.PendingManifestHash = manifestHash
	versions[versionHash] = info
}

// Clear drops the whole per-package ledger, locally and on the
// daemon. Clearing a package with no records is a no-op.
func (t *Tracker) Clear(ctx context.Context, pkg types.PackageID) error {
	t.mu.Lock()
	delete(t.ledger, pkg.String())
	t.mu.Unlock()

	if err := t.clearer.ClearUpdates(ctx, pkg); err != nil {
		// The local clear stands either way; the daemon converges on
		// its next refresh.
		t.logger.Warn("daemon update clear failed",
			zap.String("package", pkg.String()),
			zap.Error(err))
		return fmt.Errorf("clear updates for %s: %w", pkg, err)
	}
	return nil
}

// Updates returns a deep copy of the ledger.
func (t *Tracker) Updates() types.Updates {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(types.Updates, len(t.ledger))
	for pkg, versions := range t.ledger {
		copied := make(map[string]types.UpdateInfo, len(versions))
		for hash, info := range versions {
			copied[hash] = cloneInfo(info)
		}
		out[pkg] = copied
	}
	return out
}

// For returns one package's records, if any.
func (t *Tracker) For(pkg types.PackageID) (map[string]types.UpdateInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	versions, ok := t.ledger[pkg.String()]
	if !ok {
		return nil, false
	}
	copied := make(map[string]types.UpdateInfo, len(versions))
	for hash, info := range versions {
		copied[hash] = cloneInfo(info)
	}
	return copied, true
}

// Summary derives the aggregate view for one package.
func (t *Tracker) Summary(pkg types.PackageID) (types.UpdateSummary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	versions, ok := t.ledger[pkg.String()]
	if !ok {
		return types.UpdateSummary{}, false
	}
	return summarize(pkg, versions), true
}

// Summaries derives the aggregate view for every package in the
// ledger, ordered by package id.
func (t *Tracker) Summaries() []types.UpdateSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.UpdateSummary, 0, len(t.ledger))
	for key, versions := range t.ledger {
		pkg, err := types.ParsePackageID(key)
		if err != nil {
			continue
		}
		out = append(out, summarize(pkg, versions))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PackageID.String() < out[j].PackageID.String()
	})
	return out
}

func summarize(pkg types.PackageID, versions map[string]types.UpdateInfo) types.UpdateSummary {
	summary := types.UpdateSummary{PackageID: pkg}
	for hash, info := range versions {
		summary.Versions = append(summary.Versions, hash)
		summary.TotalErrors += len(info.Errors)
		if info.PendingManifestHash != "" {
			summary.HasPendingManifest = true
		}
	}
	sort.Strings(summary.Versions)
	return summary
}

func cloneInfo(info types.UpdateInfo) types.UpdateInfo {
	out := types.UpdateInfo{PendingManifestHash: info.PendingManifestHash}
	if len(info.Errors) > 0 {
		out.Errors = append([]types.UpdateError{}, info.Errors...)
	}
	return out
}
