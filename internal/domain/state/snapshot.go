package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// SnapshotVersion identifies the persisted snapshot layout.
const SnapshotVersion = 1

// Snapshot is the durable subset of agent state, written on shutdown
// and restored on startup so the agent does not cold-start against an
// unreachable daemon.
type Snapshot struct {
	Version       int                  `json:"version"`
	SavedAt       time.Time            `json:"saved_at"`
	Listings      []types.AppListing   `json:"listings,omitempty"`
	Installed     []types.PackageState `json:"installed,omitempty"`
	CustomMirrors map[string][]string  `json:"custom_mirrors,omitempty"`
	Notifications []types.Notification `json:"notifications,omitempty"`
	Updates       types.Updates        `json:"updates,omitempty"`
}

// Export captures the durable state under one read lock.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Version: SnapshotVersion}

	for _, l := range s.listings {
		snap.Listings = append(snap.Listings, l)
	}
	sort.Slice(snap.Listings, func(i, j int) bool {
		return snap.Listings[i].PackageID.String() < snap.Listings[j].PackageID.String()
	})

	for _, st := range s.installed {
		snap.Installed = append(snap.Installed, st)
	}
	sort.Slice(snap.Installed, func(i, j int) bool {
		return snap.Installed[i].PackageID.String() < snap.Installed[j].PackageID.String()
	})

	if len(s.customMirrors) > 0 {
		snap.CustomMirrors = make(map[string][]string, len(s.customMirrors))
		for pkg, mirrors := range s.customMirrors {
			snap.CustomMirrors[pkg.String()] = append([]string{}, mirrors...)
		}
	}
	if len(s.notifications) > 0 {
		snap.Notifications = append([]types.Notification{}, s.notifications...)
	}
	return snap
}

// Import merges a snapshot into the store. Entries already present
// win only if the snapshot carries the same key, matching the keyed
// upsert rule used everywhere else.
func (s *Store) Import(snap Snapshot) {
	s.UpsertListings(snap.Listings)
	s.UpsertInstalled(snap.Installed)
	for key, mirrors := range snap.CustomMirrors {
		pkg, err := types.ParsePackageID(key)
		if err != nil {
			continue
		}
		for _, m := range mirrors {
			s.AddCustomMirror(pkg, m)
		}
	}
	s.restoreNotifications(snap.Notifications)
}

// restoreNotifications re-adds persisted notifications under their
// original ids, so dismissals stay stable across restarts.
func (s *Store) restoreNotifications(ns []types.Notification) {
	if len(ns) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.notifications))
	for _, n := range s.notifications {
		seen[n.ID] = struct{}{}
	}
	for _, n := range ns {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		s.notifications = append(s.notifications, n)
	}
}

// Save writes a snapshot as zstd-compressed JSON with an atomic
// rename so a crash mid-write never truncates the previous snapshot.
func Save(path string, snap Snapshot) error {
	snap.Version = SnapshotVersion
	snap.SavedAt = time.Now().UTC()

	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("init snapshot compressor: %w", err)
	}
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/3))
	enc.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save. Callers should treat a
// missing file as a cold start, not a failure.
func Load(path string) (Snapshot, error) {
	var snap Snapshot

	raw, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return snap, fmt.Errorf("init snapshot decompressor: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return snap, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}
