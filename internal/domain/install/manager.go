package install

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Daemon is the slice of the node API the manager drives.
type Daemon interface {
	Install(ctx context.Context, id types.PackageID, versionHash string) error
	Uninstall(ctx context.Context, id types.PackageID) error
	InstalledApp(ctx context.Context, id types.PackageID) (*types.PackageState, error)
	SetMirroring(ctx context.Context, id types.PackageID, enable bool) error
	SetAutoUpdate(ctx context.Context, id types.PackageID, versionHash string, enable bool) error
}

// PendingInstall is an install holding for capability approval.
type PendingInstall struct {
	VersionHash string                  `json:"version_hash"`
	Manifests   []types.PackageManifest `json:"manifests"`
}

// RequiresApproval reports whether any bundled process asks for
// capabilities or networking, in which case the caller must collect
// an explicit approval before the install proceeds.
func (p PendingInstall) RequiresApproval() bool {
	for _, mf := range p.Manifests {
		if mf.RequestNetworking || len(mf.RequestCapabilities) > 0 {
			return true
		}
	}
	return false
}

// Manager runs each package through the install lifecycle:
// downloaded archive, manifest parse, capability approval, install
// request, and eventually uninstall.
type Manager struct {
	daemon  Daemon
	store   *state.Store
	metrics *monitoring.Metrics
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[types.PackageID]PendingInstall
}

// NewManager creates a manager over the given daemon and store.
func NewManager(daemon Daemon, store *state.Store, metrics *monitoring.Metrics, logger *logging.Logger) *Manager {
	return &Manager{
		daemon:  daemon,
		store:   store,
		metrics: metrics,
		logger:  logger,
		pending: make(map[types.PackageID]PendingInstall),
	}
}

// Install opens the capability-approval step for a downloaded
// archive. The stored manifest text is parsed here; a manifest that
// does not parse aborts the transition before anything else happens.
func (m *Manager) Install(pkg types.PackageID, versionHash string) (PendingInstall, error) {
	text, err := m.manifestText(pkg, versionHash)
	if err != nil {
		return PendingInstall{}, err
	}

	var manifests []types.PackageManifest
	if err := sonic.Unmarshal([]byte(text), &manifests); err != nil {
		return PendingInstall{}, fmt.Errorf("install %s: %w: %s", pkg, types.ErrManifestParse, err)
	}

	p := PendingInstall{VersionHash: versionHash, Manifests: manifests}
	m.mu.Lock()
	m.pending[pkg] = p
	m.mu.Unlock()

	m.logger.Info("install awaiting approval",
		zap.String("package", pkg.String()),
		zap.String("version_hash", versionHash),
		zap.Int("processes", len(manifests)))
	return p, nil
}

// Pending returns the open approval step for a package, if any.
func (m *Manager) Pending(pkg types.PackageID) (PendingInstall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[pkg]
	return p, ok
}

// Approve sends the install request for a pending package. Failure
// rolls the package back to the downloaded state.
func (m *Manager) Approve(ctx context.Context, pkg types.PackageID) error {
	m.mu.Lock()
	p, ok := m.pending[pkg]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("approve %s: no install awaiting approval: %w", pkg, types.ErrNotFound)
	}

	if err := m.daemon.Install(ctx, pkg, p.VersionHash); err != nil {
		m.clearPending(pkg)
		m.metrics.RecordInstall("error")
		m.store.Notify(types.NotifyError, fmt.Sprintf("Failed to install %s: %s", pkg, err))
		return fmt.Errorf("install %s: %w", pkg, err)
	}
	m.clearPending(pkg)

	if st, err := m.daemon.InstalledApp(ctx, pkg); err == nil && st != nil {
		m.store.SetInstalled(*st)
	} else {
		// The install went through; track it locally until the next
		// successful refresh.
		m.store.SetInstalled(types.PackageState{
			PackageID:      pkg,
			OurVersionHash: p.VersionHash,
			Verified:       true,
			CapsApproved:   true,
		})
		m.logger.Warn("installed state refresh failed",
			zap.String("package", pkg.String()),
			zap.Error(err))
	}

	m.metrics.RecordInstall("success")
	m.store.Notify(types.NotifySuccess, fmt.Sprintf("Installed %s", pkg))
	return nil
}

// Decline closes the pending approval without installing. Nothing is
// sent and no state changes.
func (m *Manager) Decline(pkg types.PackageID) error {
	m.mu.Lock()
	_, ok := m.pending[pkg]
	delete(m.pending, pkg)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("decline %s: no install awaiting approval: %w", pkg, types.ErrNotFound)
	}
	return nil
}

// Uninstall removes an installed package. Core system packages are
// rejected before any request goes out.
func (m *Manager) Uninstall(ctx context.Context, pkg types.PackageID) error {
	if IsProtected(pkg) {
		return fmt.Errorf("uninstall %s: %w", pkg, types.ErrProtectedPackage)
	}

	if err := m.daemon.Uninstall(ctx, pkg); err != nil {
		m.metrics.RecordUninstall("error")
		return fmt.Errorf("uninstall %s: %w", pkg, err)
	}

	m.clearPending(pkg)
	m.store.RemoveInstalled(pkg)
	m.metrics.RecordUninstall("success")
	m.store.Notify(types.NotifySuccess, fmt.Sprintf("Uninstalled %s", pkg))
	return nil
}

// SetMirroring toggles serving a package's archives to other nodes.
// The flip is optimistic; failure restores server truth.
func (m *Manager) SetMirroring(ctx context.Context, pkg types.PackageID, enable bool) error {
	st, ok := m.store.InstalledFor(pkg)
	if !ok {
		return fmt.Errorf("mirror %s: not installed: %w", pkg, types.ErrNotFound)
	}
	prev := st
	st.Mirroring = enable
	m.store.SetInstalled(st)

	if err := m.daemon.SetMirroring(ctx, pkg, enable); err != nil {
		m.restore(ctx, pkg, prev)
		return fmt.Errorf("set mirroring for %s: %w", pkg, err)
	}
	return nil
}

// SetAutoUpdate toggles automatic updates for a package. The flip is
// optimistic; failure restores server truth.
func (m *Manager) SetAutoUpdate(ctx context.Context, pkg types.PackageID, enable bool) error {
	st, ok := m.store.InstalledFor(pkg)
	if !ok {
		return fmt.Errorf("auto-update %s: not installed: %w", pkg, types.ErrNotFound)
	}
	prev := st
	st.AutoUpdate = enable
	m.store.SetInstalled(st)

	if err := m.daemon.SetAutoUpdate(ctx, pkg, st.OurVersionHash, enable); err != nil {
		m.restore(ctx, pkg, prev)
		return fmt.Errorf("set auto-update for %s: %w", pkg, err)
	}
	return nil
}

// Status derives the lifecycle position of a package.
func (m *Manager) Status(pkg types.PackageID) types.InstallStatus {
	if _, ok := m.store.InstalledFor(pkg); ok {
		return types.StatusInstalled
	}
	if _, ok := m.Pending(pkg); ok {
		return types.StatusCapsPending
	}
	if m.downloadedArchive(pkg) {
		return types.StatusDownloaded
	}
	return types.StatusListed
}

// Classify grades an installed version against the listing's current
// release: current, outdated, or untracked when the installed hash
// does not appear in the release history.
func (m *Manager) Classify(pkg types.PackageID) types.VersionClass {
	st, ok := m.store.InstalledFor(pkg)
	if !ok {
		return types.VersionUntracked
	}
	listing, ok := m.store.Listing(pkg)
	if !ok || listing.Metadata == nil {
		return types.VersionUntracked
	}
	props := listing.Metadata.Properties

	version, ok := props.VersionFor(st.OurVersionHash)
	if !ok {
		return types.VersionUntracked
	}
	if version == props.CurrentVersion {
		return types.VersionCurrent
	}

	installed, ierr := semver.NewVersion(version)
	current, cerr := semver.NewVersion(props.CurrentVersion)
	if ierr == nil && cerr == nil && !installed.LessThan(current) {
		return types.VersionCurrent
	}
	return types.VersionOutdated
}

func (m *Manager) clearPending(pkg types.PackageID) {
	m.mu.Lock()
	delete(m.pending, pkg)
	m.mu.Unlock()
}

// restore puts a package's record back after a failed optimistic
// flip, preferring what the daemon reports over the remembered value.
func (m *Manager) restore(ctx context.Context, pkg types.PackageID, prev types.PackageState) {
	if st, err := m.daemon.InstalledApp(ctx, pkg); err == nil && st != nil {
		m.store.SetInstalled(*st)
		return
	}
	m.store.SetInstalled(prev)
}

// manifestText finds the stored manifest for an archive in the
// download inventory.
func (m *Manager) manifestText(pkg types.PackageID, versionHash string) (string, error) {
	for _, item := range m.store.DownloadsFor(pkg) {
		if item.File == nil || item.File.Name != versionHash+".zip" {
			continue
		}
		if item.File.Manifest == "" {
			return "", fmt.Errorf("install %s: archive %s has no stored manifest: %w",
				pkg, types.ShortHash(versionHash), types.ErrManifestParse)
		}
		return item.File.Manifest, nil
	}
	return "", fmt.Errorf("install %s: archive %s not downloaded: %w",
		pkg, types.ShortHash(versionHash), types.ErrNotFound)
}

// downloadedArchive reports whether a release archive for pkg exists
// locally. When the listing names code hashes, only archives matching
// one of them count.
func (m *Manager) downloadedArchive(pkg types.PackageID) bool {
	items := m.store.DownloadsFor(pkg)
	if len(items) == 0 {
		return false
	}

	var known map[string]bool
	if listing, ok := m.store.Listing(pkg); ok && listing.Metadata != nil {
		if hashes := listing.Metadata.Properties.CodeHashes; len(hashes) > 0 {
			known = make(map[string]bool, len(hashes))
			for _, ch := range hashes {
				known[ch.Hash] = true
			}
		}
	}

	for _, item := range items {
		if item.File == nil {
			continue
		}
		hash := strings.TrimSuffix(item.File.Name, ".zip")
		if known == nil || known[hash] {
			return true
		}
	}
	return false
}
