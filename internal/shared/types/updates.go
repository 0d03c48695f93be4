package types

import (
	"encoding/json"
	"fmt"
)

// UpdateInfo records the failed attempts for one auto-updated
// version: which mirror was tried and how it failed, plus a manifest
// hash awaiting manual review when the update changed capabilities.
type UpdateInfo struct {
	Errors              []UpdateError `json:"errors"`
	PendingManifestHash string        `json:"pending_manifest_hash,omitempty"`
}

// UpdateError pairs the mirror that was tried with the failure it
// produced. The wire form is a two-element array.
type UpdateError struct {
	Mirror string
	Error  DownloadError
}

// MarshalJSON encodes the (mirror, error) pair as an array.
func (u UpdateError) MarshalJSON() ([]byte, error) {
	mirror, err := json.Marshal(u.Mirror)
	if err != nil {
		return nil, err
	}
	derr, err := json.Marshal(u.Error)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("[%s,%s]", mirror, derr)), nil
}

// UnmarshalJSON decodes the two-element array form.
func (u *UpdateError) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid update error pair %s", data)
	}
	if err := json.Unmarshal(pair[0], &u.Mirror); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &u.Error)
}

// Updates is the auto-update failure ledger: package id string to
// attempted version hash to its failure record.
type Updates map[string]map[string]UpdateInfo

// UpdateSummary is the derived per-package view, recomputed on each
// query and never stored.
type UpdateSummary struct {
	PackageID          PackageID `json:"package_id"`
	TotalErrors        int       `json:"total_errors"`
	HasPendingManifest bool      `json:"has_pending_manifest"`
	Versions           []string  `json:"versions"`
}
