package download

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/shared/archive"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

const testManifest = `[{"process_name":"chat","process_wasm_path":"chat.wasm","on_exit":"Restart","request_networking":true,"request_capabilities":[],"grant_capabilities":[],"public":false}]`

// buildArchive assembles a package zip in memory and returns its
// bytes with their sha256 digest.
func buildArchive(t *testing.T, manifest, payload string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if manifest != "" {
		mf, err := w.Create(archive.ManifestName)
		if err != nil {
			t.Fatalf("create manifest entry: %v", err)
		}
		if _, err := mf.Write([]byte(manifest)); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	pf, err := w.Create("pkg/process.wasm")
	if err != nil {
		t.Fatalf("create payload entry: %v", err)
	}
	if _, err := pf.Write([]byte(payload)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes(), archive.HashBytes(buf.Bytes())
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	return c
}

// stage writes archive bytes to the staging path a fetch would use.
func stage(t *testing.T, c *Cache, pkg types.PackageID, hash string, data []byte) string {
	t.Helper()
	staged := c.TempPath(pkg, hash)
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return staged
}

func TestCommitPromotesArchive(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	data, hash := buildArchive(t, testManifest, "v1")
	staged := stage(t, c, pkg, hash, data)

	if err := c.Commit(pkg, hash, staged); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !c.Has(pkg, hash) {
		t.Fatal("archive should be cached after commit")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staging file should be gone after commit")
	}

	manifests, err := c.ManifestFor(pkg, hash)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if len(manifests) != 1 || manifests[0].ProcessName != "chat" {
		t.Errorf("manifests = %+v", manifests)
	}
}

func TestCommitRejectsArchiveWithoutManifest(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	data, hash := buildArchive(t, "", "v1")
	staged := stage(t, c, pkg, hash, data)

	err := c.Commit(pkg, hash, staged)
	var de *types.DownloadError
	if !errors.As(err, &de) || de.Kind != types.DownloadInvalidManifest {
		t.Fatalf("want invalid-manifest error, got %v", err)
	}
	if c.Has(pkg, hash) {
		t.Error("rejected archive must not enter the cache")
	}
}

func TestManifestForErrors(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}

	if _, err := c.ManifestFor(pkg, "feedface"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("missing sidecar: want ErrNotFound, got %v", err)
	}

	if err := os.MkdirAll(filepath.Join(c.Root(), pkg.String()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.manifestPath(pkg, "feedface"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ManifestFor(pkg, "feedface"); !errors.Is(err, types.ErrManifestParse) {
		t.Fatalf("garbage sidecar: want ErrManifestParse, got %v", err)
	}
}

func TestItemsListsArchivesInOrder(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}

	for _, payload := range []string{"v1", "v2"} {
		data, hash := buildArchive(t, testManifest, payload)
		if err := c.Commit(pkg, hash, stage(t, c, pkg, hash, data)); err != nil {
			t.Fatalf("commit %s: %v", payload, err)
		}
	}

	items, err := c.Items(pkg)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].File.Name >= items[i].File.Name {
			t.Errorf("items out of order: %s before %s", items[i-1].File.Name, items[i].File.Name)
		}
	}
	for _, item := range items {
		if item.File == nil {
			t.Fatal("cache inventory entries must be files")
		}
		if item.File.Size == 0 {
			t.Errorf("%s has zero size", item.File.Name)
		}
		if item.File.Manifest == "" {
			t.Errorf("%s is missing its manifest text", item.File.Name)
		}
	}
}

func TestItemsForUnknownPackage(t *testing.T) {
	c := newTestCache(t)
	items, err := c.Items(types.PackageID{Name: "ghost", Publisher: "nobody.os"})
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items != nil {
		t.Errorf("items = %v, want none", items)
	}
}

func TestRemoveDeletesArchiveAndSidecar(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	data, hash := buildArchive(t, testManifest, "v1")
	if err := c.Commit(pkg, hash, stage(t, c, pkg, hash, data)); err != nil {
		t.Fatal(err)
	}

	if err := c.Remove(pkg, hash); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.Has(pkg, hash) {
		t.Error("archive still cached after remove")
	}
	if _, err := os.Stat(c.manifestPath(pkg, hash)); !os.IsNotExist(err) {
		t.Error("sidecar still present after remove")
	}
	if _, err := os.Stat(filepath.Join(c.Root(), pkg.String())); !os.IsNotExist(err) {
		t.Error("empty package dir should be cleaned up")
	}

	// Removing again is a no-op.
	if err := c.Remove(pkg, hash); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestScanRebuildsInventory(t *testing.T) {
	c := newTestCache(t)
	chat := types.PackageID{Name: "chat", Publisher: "alice.os"}
	files := types.PackageID{Name: "files", Publisher: "bob.os"}

	for _, pkg := range []types.PackageID{chat, files} {
		data, hash := buildArchive(t, testManifest, pkg.Name)
		if err := c.Commit(pkg, hash, stage(t, c, pkg, hash, data)); err != nil {
			t.Fatal(err)
		}
	}
	// Directories that do not parse as package ids are skipped.
	if err := os.MkdirAll(filepath.Join(c.Root(), "junk"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.Root(), "junk", "x.zip"), []byte("zz"), 0o644); err != nil {
		t.Fatal(err)
	}

	inventory, err := c.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(inventory) != 2 {
		t.Fatalf("inventory has %d packages, want 2", len(inventory))
	}
	for _, pkg := range []types.PackageID{chat, files} {
		if len(inventory[pkg]) != 1 {
			t.Errorf("%s: %d items, want 1", pkg, len(inventory[pkg]))
		}
	}
}

func TestPruneSweepsStagingFiles(t *testing.T) {
	c := newTestCache(t)
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	data, hash := buildArchive(t, testManifest, "v1")
	if err := c.Commit(pkg, hash, stage(t, c, pkg, hash, data)); err != nil {
		t.Fatal(err)
	}
	stage(t, c, pkg, "0123abcd", []byte("interrupted"))
	stage(t, c, types.PackageID{Name: "files", Publisher: "bob.os"}, "4567ef01", []byte("interrupted"))

	removed, err := c.Prune("**/*.tmp")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("pruned %d files, want 2", removed)
	}
	if !c.Has(pkg, hash) {
		t.Error("prune must not touch committed archives")
	}

	if _, err := c.Prune("[invalid"); err == nil {
		t.Error("invalid pattern should be rejected")
	}
}
