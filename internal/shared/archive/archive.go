// Package archive verifies downloaded package archives and extracts
// their bundled manifests.
//
// An archive is a zip named "<version_hash>.zip" where the version
// hash is the sha256 digest of the zip bytes. The bundled
// manifest.json is stored beside the archive as "<version_hash>.json"
// and its keccak256 digest is tracked as the package's manifest hash.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/sha3"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// ManifestName is the manifest file bundled in every package archive.
const ManifestName = "manifest.json"

// HashFile returns the lowercase hex sha256 digest of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the lowercase hex sha256 digest of a byte slice.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashManifest returns the lowercase hex keccak256 digest of a
// manifest document.
func HashManifest(manifest []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(manifest)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that a downloaded file is a zip archive whose sha256
// digest equals the desired version hash. A digest mismatch returns a
// HashMismatch download error carrying both digests.
func Verify(path, desired string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("sniff archive: %w", err)
	}
	if !mt.Is("application/zip") {
		return fmt.Errorf("archive is %s, not a zip", mt.String())
	}

	actual, err := HashFile(path)
	if err != nil {
		return err
	}
	if actual != desired {
		return types.NewHashMismatch(desired, actual)
	}
	return nil
}

// ExtractManifest reads manifest.json out of a package archive.
func ExtractManifest(zipPath string) ([]byte, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ManifestName, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ManifestName, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s missing from archive: %w", ManifestName, types.ErrNotFound)
}
