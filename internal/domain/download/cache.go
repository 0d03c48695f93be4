package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/shared/archive"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Cache stores fetched archives on disk, one directory per package,
// each archive beside a sidecar holding its extracted manifest:
//
//	<root>/<name:publisher>/<version_hash>.zip
//	<root>/<name:publisher>/<version_hash>.json
type Cache struct {
	root   string
	logger *logging.Logger
}

// NewCache opens (and creates) an archive cache rooted at dir.
func NewCache(dir string, logger *logging.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{root: dir, logger: logger}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// PathFor returns where a package archive lives in the cache.
func (c *Cache) PathFor(pkg types.PackageID, versionHash string) string {
	return filepath.Join(c.root, pkg.String(), versionHash+".zip")
}

// TempPath returns the staging path a transfer writes to before the
// archive is verified and committed.
func (c *Cache) TempPath(pkg types.PackageID, versionHash string) string {
	return filepath.Join(c.root, pkg.String(), versionHash+".zip.tmp")
}

func (c *Cache) manifestPath(pkg types.PackageID, versionHash string) string {
	return filepath.Join(c.root, pkg.String(), versionHash+".json")
}

// Has reports whether an archive is cached.
func (c *Cache) Has(pkg types.PackageID, versionHash string) bool {
	_, err := os.Stat(c.PathFor(pkg, versionHash))
	return err == nil
}

// Commit promotes a staged archive into the cache: the manifest is
// extracted to its sidecar, then the archive is renamed into place.
func (c *Cache) Commit(pkg types.PackageID, versionHash, stagedPath string) error {
	manifest, err := archive.ExtractManifest(stagedPath)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &types.DownloadError{Kind: types.DownloadInvalidManifest}
		}
		return fmt.Errorf("read staged archive: %w", err)
	}

	if err := os.WriteFile(c.manifestPath(pkg, versionHash), manifest, 0o644); err != nil {
		return fmt.Errorf("write manifest sidecar: %w", err)
	}
	if err := os.Rename(stagedPath, c.PathFor(pkg, versionHash)); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	c.logger.Debug("archive cached",
		zap.String("package", pkg.String()),
		zap.String("version_hash", versionHash))
	return nil
}

// Remove deletes one archive and its sidecar. The package directory
// goes too once it is empty.
func (c *Cache) Remove(pkg types.PackageID, versionHash string) error {
	if err := os.Remove(c.PathFor(pkg, versionHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}
	if err := os.Remove(c.manifestPath(pkg, versionHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove manifest sidecar: %w", err)
	}
	// Fails while siblings remain, which is fine.
	os.Remove(filepath.Join(c.root, pkg.String()))
	return nil
}

// RemovePackage deletes every cached archive of a package.
func (c *Cache) RemovePackage(pkg types.PackageID) error {
	return os.RemoveAll(filepath.Join(c.root, pkg.String()))
}

// ManifestFor parses the cached manifest of an archive.
func (c *Cache) ManifestFor(pkg types.PackageID, versionHash string) ([]types.PackageManifest, error) {
	raw, err := os.ReadFile(c.manifestPath(pkg, versionHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest for %s@%s: %w", pkg, versionHash, types.ErrNotFound)
		}
		return nil, err
	}
	var manifests []types.PackageManifest
	if err := sonic.Unmarshal(raw, &manifests); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrManifestParse, err)
	}
	return manifests, nil
}

// Items lists the cached archives of one package as inventory file
// entries, ordered by name.
func (c *Cache) Items(pkg types.PackageID) ([]types.DownloadItem, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, pkg.String()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cached archives: %w", err)
	}

	var items []types.DownloadItem
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		manifest := ""
		hash := strings.TrimSuffix(name, ".zip")
		if raw, err := os.ReadFile(c.manifestPath(pkg, hash)); err == nil {
			manifest = string(raw)
		}
		items = append(items, types.DownloadItem{File: &types.FileEntry{
			Name:     name,
			Size:     uint64(info.Size()),
			Manifest: manifest,
		}})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].File.Name < items[j].File.Name })
	return items, nil
}

// Scan walks the cache and rebuilds the per-package inventory, used
// at startup to resync the store with what disk actually holds.
func (c *Cache) Scan() (map[types.PackageID][]types.DownloadItem, error) {
	var mu sync.Mutex
	found := make(map[types.PackageID]struct{})

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, c.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".zip") {
			return nil
		}
		pkg, perr := types.ParsePackageID(filepath.Base(filepath.Dir(p)))
		if perr != nil {
			return nil
		}
		mu.Lock()
		found[pkg] = struct{}{}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cache: %w", err)
	}

	out := make(map[types.PackageID][]types.DownloadItem, len(found))
	for pkg := range found {
		items, err := c.Items(pkg)
		if err != nil {
			c.logger.Warn("skipping unreadable cache entry",
				zap.String("package", pkg.String()),
				zap.Error(err))
			continue
		}
		out[pkg] = items
	}
	return out, nil
}

// Prune removes cache files whose path relative to the root matches a
// doublestar pattern, returning how many were deleted. The agent runs
// it at startup with "**/*.tmp" to sweep interrupted transfers.
func (c *Cache) Prune(pattern string) (int, error) {
	if !doublestar.ValidatePattern(pattern) {
		return 0, fmt.Errorf("prune: invalid pattern %q", pattern)
	}

	var mu sync.Mutex
	var victims []string

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, c.root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(c.root, p)
		if rerr != nil {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			victims = append(victims, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}

	removed := 0
	for _, v := range victims {
		if err := os.Remove(v); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("pruned cache files",
			zap.String("pattern", pattern),
			zap.Int("removed", removed))
	}
	return removed, nil
}
