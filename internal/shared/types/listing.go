package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AppListing is one registry entry as read from the store node:
// on-chain identity plus the off-chain metadata it points at.
type AppListing struct {
	PackageID    PackageID        `json:"package_id"`
	Tba          string           `json:"tba"`
	MetadataURI  string           `json:"metadata_uri"`
	MetadataHash string           `json:"metadata_hash"`
	Metadata     *OnchainMetadata `json:"metadata,omitempty"`
	AutoUpdate   bool             `json:"auto_update"`
	Block        uint64           `json:"block"`
}

// OnchainMetadata is the ERC-721 style metadata document referenced
// by a listing's metadata_uri.
type OnchainMetadata struct {
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Image       string             `json:"image,omitempty"`
	ExternalURL string             `json:"external_url,omitempty"`
	Properties  MetadataProperties `json:"properties"`
}

// MetadataProperties carries the distribution-relevant fields of the
// metadata document.
type MetadataProperties struct {
	PackageName    string     `json:"package_name"`
	Publisher      string     `json:"publisher"`
	CurrentVersion string     `json:"current_version"`
	Mirrors        []string   `json:"mirrors"`
	CodeHashes     []CodeHash `json:"code_hashes"`
	License        string     `json:"license,omitempty"`
	Screenshots    []string   `json:"screenshots,omitempty"`
	WitVersion     *uint32    `json:"wit_version,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
}

// CodeHash pairs a released version with the content hash of its
// archive. Order in the metadata document is preserved.
type CodeHash struct {
	Version string
	Hash    string
}

// MarshalJSON encodes the pair as a two-element array, matching the
// metadata document format.
func (c CodeHash) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Version, c.Hash})
}

// UnmarshalJSON accepts both the two-element array form and the
// object form {"version": ..., "hash": ...}.
func (c *CodeHash) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err == nil {
		c.Version, c.Hash = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Version string `json:"version"`
		Hash    string `json:"hash"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid code hash entry %s", data)
	}
	c.Version, c.Hash = obj.Version, obj.Hash
	return nil
}

// HashFor returns the content hash recorded for version, if any.
func (m MetadataProperties) HashFor(version string) (string, bool) {
	for _, ch := range m.CodeHashes {
		if ch.Version == version {
			return ch.Hash, true
		}
	}
	return "", false
}

// VersionFor returns the version recorded for a content hash, if any.
func (m MetadataProperties) VersionFor(hash string) (string, bool) {
	for _, ch := range m.CodeHashes {
		if ch.Hash == hash {
			return ch.Version, true
		}
	}
	return "", false
}

// IsHTTPMirror reports whether a mirror reference is an HTTP origin
// rather than a node identifier.
func IsHTTPMirror(mirror string) bool {
	return strings.Contains(mirror, "://")
}
