package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PackageID identifies a package by name and publisher node.
// The canonical text form is "name:publisher" and is used as the
// wire format, as map keys, and in gateway URL paths.
type PackageID struct {
	Name      string
	Publisher string
}

// ParsePackageID parses the canonical "name:publisher" form.
func ParsePackageID(s string) (PackageID, error) {
	name, publisher, ok := strings.Cut(s, ":")
	if !ok || name == "" || publisher == "" {
		return PackageID{}, fmt.Errorf("invalid package id %q: want name:publisher", s)
	}
	return PackageID{Name: name, Publisher: publisher}, nil
}

// String returns the canonical "name:publisher" form.
func (p PackageID) String() string {
	return p.Name + ":" + p.Publisher
}

// Entry returns the dotted registry entry name ("name.publisher"),
// the form hashed into the on-chain identity.
func (p PackageID) Entry() string {
	return p.Name + "." + p.Publisher
}

// IsZero reports whether the id is unset.
func (p PackageID) IsZero() bool {
	return p.Name == "" && p.Publisher == ""
}

// DownloadKey returns the transfer-tracking key for one version of
// this package ("name:publisher:version_hash").
func (p PackageID) DownloadKey(versionHash string) string {
	return p.String() + ":" + versionHash
}

// MarshalJSON encodes the id as its canonical string form.
func (p PackageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes either the canonical string form or the
// legacy object form {"package_name": ..., "publisher_node": ...}.
func (p *PackageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		id, perr := ParsePackageID(s)
		if perr != nil {
			return perr
		}
		*p = id
		return nil
	}
	var obj struct {
		PackageName   string `json:"package_name"`
		PublisherNode string `json:"publisher_node"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid package id %s", data)
	}
	if obj.PackageName == "" || obj.PublisherNode == "" {
		return fmt.Errorf("invalid package id %s", data)
	}
	*p = PackageID{Name: obj.PackageName, Publisher: obj.PublisherNode}
	return nil
}
