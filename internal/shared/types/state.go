package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PackageState is the per-package record for anything downloaded or
// installed locally.
type PackageState struct {
	PackageID      PackageID `json:"package_id"`
	OurVersionHash string    `json:"our_version_hash"`
	Verified       bool      `json:"verified"`
	CapsApproved   bool      `json:"caps_approved"`
	ManifestHash   string    `json:"manifest_hash,omitempty"`
	Mirroring      bool      `json:"mirroring"`
	AutoUpdate     bool      `json:"auto_update"`
}

// VersionClass classifies an installed version against the listing.
type VersionClass string

const (
	VersionCurrent   VersionClass = "current"
	VersionOutdated  VersionClass = "outdated"
	VersionUntracked VersionClass = "untracked"
)

// InstallStatus is the install lifecycle position of a package.
type InstallStatus string

const (
	StatusListed      InstallStatus = "listed"
	StatusDownloaded  InstallStatus = "downloaded"
	StatusCapsPending InstallStatus = "caps_pending"
	StatusInstalled   InstallStatus = "installed"
)

// MirrorStatus is the probe result for one mirror. Absence of an
// entry means the mirror has not been probed yet.
type MirrorStatus string

const (
	MirrorUnknown MirrorStatus = "unknown"
	MirrorOnline  MirrorStatus = "online"
	MirrorOffline MirrorStatus = "offline"
	// MirrorHTTP marks an HTTP origin, always assumed reachable and
	// never probed.
	MirrorHTTP MirrorStatus = "http"
)

// ActiveDownload tracks live transfer progress for one archive,
// keyed by "name:publisher:version_hash".
type ActiveDownload struct {
	Downloaded uint64 `json:"downloaded"`
	Total      uint64 `json:"total"`
}

// MirrorCheck is the daemon's liveness verdict for one node mirror.
type MirrorCheck struct {
	Node     string  `json:"node"`
	IsOnline bool    `json:"is_online"`
	Error    *string `json:"error,omitempty"`
}

// DownloadItem is one node of the local download inventory: either a
// package directory or an archive file. Exactly one of File and Dir
// is set.
type DownloadItem struct {
	File *FileEntry
	Dir  *DirEntry
}

// FileEntry is a stored archive. Name is "<version_hash>.zip" and
// Manifest holds the raw manifest JSON extracted from the archive.
type FileEntry struct {
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	Manifest string `json:"manifest"`
}

// DirEntry is a package directory. Mirroring reports whether the
// archives under it are being served to other nodes.
type DirEntry struct {
	Name      string `json:"name"`
	Mirroring bool   `json:"mirroring"`
}

// MarshalJSON encodes the externally tagged form {"File": {...}} or
// {"Dir": {...}}.
func (d DownloadItem) MarshalJSON() ([]byte, error) {
	switch {
	case d.File != nil:
		return json.Marshal(map[string]*FileEntry{"File": d.File})
	case d.Dir != nil:
		return json.Marshal(map[string]*DirEntry{"Dir": d.Dir})
	default:
		return nil, fmt.Errorf("download item has neither file nor dir")
	}
}

// UnmarshalJSON decodes the externally tagged form.
func (d *DownloadItem) UnmarshalJSON(data []byte) error {
	var tagged struct {
		File *FileEntry `json:"File"`
		Dir  *DirEntry  `json:"Dir"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if (tagged.File == nil) == (tagged.Dir == nil) {
		return fmt.Errorf("download item must be exactly one of File or Dir: %s", data)
	}
	d.File, d.Dir = tagged.File, tagged.Dir
	return nil
}

// NotificationKind distinguishes user-visible notifications.
type NotificationKind string

const (
	NotifySuccess  NotificationKind = "success"
	NotifyError    NotificationKind = "error"
	NotifyWarning  NotificationKind = "warning"
	NotifyDownload NotificationKind = "download"
)

// Notification is a dismissible user-visible message.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}
