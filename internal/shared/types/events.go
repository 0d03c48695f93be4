package types

import "encoding/json"

// Event kinds on the push channel.
const (
	KindProgress = "progress"
	KindComplete = "complete"
)

// PushEvent is the envelope for push-channel messages.
type PushEvent struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// ProgressData reports transfer progress for one archive.
type ProgressData struct {
	PackageID   PackageID `json:"package_id"`
	VersionHash string    `json:"version_hash"`
	Downloaded  uint64    `json:"downloaded"`
	Total       uint64    `json:"total"`
}

// CompleteData terminates a transfer. Error is nil on success.
type CompleteData struct {
	PackageID   PackageID      `json:"package_id"`
	VersionHash string         `json:"version_hash"`
	Error       *DownloadError `json:"error,omitempty"`
}

// Key returns the transfer-tracking key for this progress update.
func (p ProgressData) Key() string {
	return p.PackageID.DownloadKey(p.VersionHash)
}

// Key returns the transfer-tracking key for this completion.
func (c CompleteData) Key() string {
	return c.PackageID.DownloadKey(c.VersionHash)
}
