package state

import (
	"sort"
	"sync"
	"time"

	"github.com/kinode-dao/storekeeper/internal/shared/id"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Store is the agent's in-memory client state.
type Store struct {
	mu sync.RWMutex

	listings  map[types.PackageID]types.AppListing
	installed map[types.PackageID]types.PackageState
	downloads map[types.PackageID][]types.DownloadItem

	active     map[string]types.ActiveDownload
	tombstones map[string]struct{}

	mirrorStatus  map[types.PackageID]map[string]types.MirrorStatus
	customMirrors map[types.PackageID][]string

	notifications []types.Notification
	ids           *id.Generator
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		listings:      make(map[types.PackageID]types.AppListing),
		installed:     make(map[types.PackageID]types.PackageState),
		downloads:     make(map[types.PackageID][]types.DownloadItem),
		active:        make(map[string]types.ActiveDownload),
		tombstones:    make(map[string]struct{}),
		mirrorStatus:  make(map[types.PackageID]map[string]types.MirrorStatus),
		customMirrors: make(map[types.PackageID][]string),
		ids:           id.NewGenerator(),
	}
}

// UpsertListings merges listings by package id.
func (s *Store) UpsertListings(listings []types.AppListing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range listings {
		if l.PackageID.IsZero() {
			continue
		}
		s.listings[l.PackageID] = l
	}
}

// Listing returns one listing by id.
func (s *Store) Listing(pkg types.PackageID) (types.AppListing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[pkg]
	return l, ok
}

// Listings returns all listings ordered by package id.
func (s *Store) Listings() []types.AppListing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AppListing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PackageID.String() < out[j].PackageID.String()
	})
	return out
}

// UpsertInstalled merges installed package states by id.
func (s *Store) UpsertInstalled(states []types.PackageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if st.PackageID.IsZero() {
			continue
		}
		s.installed[st.PackageID] = st
	}
}

// SetInstalled records one installed package state.
func (s *Store) SetInstalled(st types.PackageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[st.PackageID] = st
}

// RemoveInstalled drops an installed package record.
func (s *Store) RemoveInstalled(pkg types.PackageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.installed, pkg)
}

// InstalledFor returns the installed state for one package.
func (s *Store) InstalledFor(pkg types.PackageID) (types.PackageState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.installed[pkg]
	return st, ok
}

// Installed returns all installed package states ordered by id.
func (s *Store) Installed() []types.PackageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PackageState, 0, len(s.installed))
	for _, st := range s.installed {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PackageID.String() < out[j].PackageID.String()
	})
	return out
}

// SetDownloads replaces the archive inventory for one package. The
// per-package key keeps a refresh of one package from touching the
// subtrees of others.
func (s *Store) SetDownloads(pkg types.PackageID, items []types.DownloadItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[pkg] = append([]types.DownloadItem{}, items...)
}

// DownloadsFor returns the archive inventory for one package.
func (s *Store) DownloadsFor(pkg types.PackageID) []types.DownloadItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.DownloadItem{}, s.downloads[pkg]...)
}

// Downloads returns the whole download inventory as package
// directories with their file entries.
func (s *Store) Downloads() []types.DownloadItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkgs := make([]types.PackageID, 0, len(s.downloads))
	for pkg := range s.downloads {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].String() < pkgs[j].String() })

	out := make([]types.DownloadItem, 0, len(pkgs))
	for _, pkg := range pkgs {
		mirroring := false
		if st, ok := s.installed[pkg]; ok {
			mirroring = st.Mirroring
		}
		out = append(out, types.DownloadItem{Dir: &types.DirEntry{
			Name:      pkg.String(),
			Mirroring: mirroring,
		}})
	}
	return out
}

// RemoveDownload drops one archive entry from a package's inventory.
func (s *Store) RemoveDownload(pkg types.PackageID, versionHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.downloads[pkg]
	kept := items[:0]
	for _, item := range items {
		if item.File != nil && item.File.Name == versionHash+".zip" {
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		delete(s.downloads, pkg)
		return
	}
	s.downloads[pkg] = kept
}

// StartActive registers an optimistic transfer entry for a download
// key and clears any tombstone left by an earlier attempt.
func (s *Store) StartActive(key string, total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tombstones, key)
	s.active[key] = types.ActiveDownload{Downloaded: 0, Total: total}
}

// Progress applies a transfer progress update. Updates for a key that
// already completed are dropped so a late event cannot resurrect a
// finished transfer. Reports whether the update was applied.
func (s *Store) Progress(key string, downloaded, total uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dead := s.tombstones[key]; dead {
		return false
	}
	s.active[key] = types.ActiveDownload{Downloaded: downloaded, Total: total}
	return true
}

// Complete removes a transfer entry and tombstones its key.
func (s *Store) Complete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
	s.tombstones[key] = struct{}{}
}

// DropActive removes a transfer entry without tombstoning, for
// rolling back an optimistic start that the daemon rejected.
func (s *Store) DropActive(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// ActiveFor returns the live transfer entry for a download key.
func (s *Store) ActiveFor(key string) (types.ActiveDownload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.active[key]
	return a, ok
}

// Active returns a copy of all live transfer entries.
func (s *Store) Active() map[string]types.ActiveDownload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.ActiveDownload, len(s.active))
	for k, v := range s.active {
		out[k] = v
	}
	return out
}

// SetMirrorStatus records a probe result for one mirror of a package.
func (s *Store) SetMirrorStatus(pkg types.PackageID, mirror string, status types.MirrorStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mirrorStatus[pkg]
	if m == nil {
		m = make(map[string]types.MirrorStatus)
		s.mirrorStatus[pkg] = m
	}
	m[mirror] = status
}

// ResetMirrorStatuses forgets probe results before a re-probe.
func (s *Store) ResetMirrorStatuses(pkg types.PackageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mirrorStatus, pkg)
}

// MirrorStatuses returns a copy of the probe results for a package.
func (s *Store) MirrorStatuses(pkg types.PackageID) map[string]types.MirrorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.MirrorStatus, len(s.mirrorStatus[pkg]))
	for k, v := range s.mirrorStatus[pkg] {
		out[k] = v
	}
	return out
}

// AddCustomMirror remembers a user-supplied mirror for a package.
func (s *Store) AddCustomMirror(pkg types.PackageID, mirror string) {
	if mirror == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.customMirrors[pkg] {
		if m == mirror {
			return
		}
	}
	s.customMirrors[pkg] = append(s.customMirrors[pkg], mirror)
}

// RemoveCustomMirror forgets a user-supplied mirror.
func (s *Store) RemoveCustomMirror(pkg types.PackageID, mirror string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.customMirrors[pkg][:0]
	for _, m := range s.customMirrors[pkg] {
		if m != mirror {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(s.customMirrors, pkg)
		return
	}
	s.customMirrors[pkg] = kept
}

// CustomMirrors returns the user-supplied mirrors for a package.
func (s *Store) CustomMirrors(pkg types.PackageID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.customMirrors[pkg]...)
}

// Notify records a user-visible notification and returns it.
func (s *Store) Notify(kind types.NotificationKind, message string) types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := types.Notification{
		ID:        s.ids.GenerateWithPrefix(id.NotificationPrefix),
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	s.notifications = append(s.notifications, n)
	return n
}

// Notifications returns all pending notifications, oldest first.
func (s *Store) Notifications() []types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Notification{}, s.notifications...)
}

// DismissNotification drops one notification by id.
func (s *Store) DismissNotification(notifID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if n.ID == notifID {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// ClearNotifications drops all pending notifications.
func (s *Store) ClearNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = nil
}
