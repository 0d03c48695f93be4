package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

type progressLog struct {
	downloaded []uint64
	totals     []uint64
}

func (p *progressLog) record(downloaded, total uint64) {
	p.downloaded = append(p.downloaded, downloaded)
	p.totals = append(p.totals, total)
}

func (p *progressLog) final(t *testing.T, wantDownloaded, wantTotal uint64) {
	t.Helper()
	if len(p.downloaded) == 0 {
		t.Fatal("no progress reported")
	}
	last := len(p.downloaded) - 1
	if p.downloaded[last] != wantDownloaded || p.totals[last] != wantTotal {
		t.Errorf("final progress = %d/%d, want %d/%d",
			p.downloaded[last], p.totals[last], wantDownloaded, wantTotal)
	}
	for i := 1; i < len(p.downloaded); i++ {
		if p.downloaded[i] < p.downloaded[i-1] {
			t.Errorf("progress went backwards at %d: %d < %d",
				i, p.downloaded[i], p.downloaded[i-1])
		}
	}
}

func newTestFetcher(chunkSize int64) *Fetcher {
	return NewFetcher(resty.New(), chunkSize,
		monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
}

// rangedOrigin serves archives with full range support and counts GETs.
func rangedOrigin(data []byte, gets *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".zip") {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			atomic.AddInt32(gets, 1)
		}
		http.ServeContent(w, r, "pkg.zip", time.Unix(0, 0), bytes.NewReader(data))
	}
}

func TestArchiveURL(t *testing.T) {
	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	got, err := ArchiveURL("https://mirror.example.com/pkgs", pkg, "deadbeef")
	if err != nil {
		t.Fatalf("archive url: %v", err)
	}
	want := "https://mirror.example.com/pkgs/chat:alice.os/deadbeef.zip"
	if got != want {
		t.Errorf("url = %s, want %s", got, want)
	}

	if _, err := ArchiveURL("://bad", pkg, "deadbeef"); err == nil {
		t.Error("invalid origin should be rejected")
	}
}

func TestFetchChunked(t *testing.T) {
	data, hash := buildArchive(t, testManifest, "chunked payload")
	var gets int32
	srv := httptest.NewServer(rangedOrigin(data, &gets))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	dest := filepath.Join(t.TempDir(), "staged", hash+".zip.tmp")
	var progress progressLog

	f := newTestFetcher(64)
	if err := f.Fetch(context.Background(), srv.URL, pkg, hash, dest, progress.record); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("fetched bytes differ from origin archive")
	}
	progress.final(t, uint64(len(data)), uint64(len(data)))
	if atomic.LoadInt32(&gets) < 2 {
		t.Errorf("expected multiple ranged requests, got %d", gets)
	}
}

func TestFetchStreamingWithoutRangeSupport(t *testing.T) {
	data, hash := buildArchive(t, testManifest, "streamed payload")
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		atomic.AddInt32(&gets, 1)
		w.Write(data)
	}))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	dest := filepath.Join(t.TempDir(), hash+".zip.tmp")
	var progress progressLog

	f := newTestFetcher(64)
	if err := f.Fetch(context.Background(), srv.URL, pkg, hash, dest, progress.record); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("fetched bytes differ from origin archive")
	}
	progress.final(t, uint64(len(data)), uint64(len(data)))
	if atomic.LoadInt32(&gets) != 1 {
		t.Errorf("streaming fetch made %d requests, want 1", gets)
	}
}

func TestFetchStreamingUnknownLength(t *testing.T) {
	data, hash := buildArchive(t, testManifest, "no length")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing first forces chunked transfer encoding, so the
		// client never learns a total.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		if r.Method != http.MethodHead {
			w.Write(data)
		}
	}))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	dest := filepath.Join(t.TempDir(), hash+".zip.tmp")
	var progress progressLog

	f := newTestFetcher(64)
	if err := f.Fetch(context.Background(), srv.URL, pkg, hash, dest, progress.record); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	progress.final(t, uint64(len(data)), 0)
}

func TestFetchRangeIgnoredByOrigin(t *testing.T) {
	// The origin advertises range support but then serves the whole
	// archive anyway. The first full response must win cleanly.
	data, hash := buildArchive(t, testManifest, "full response")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	dest := filepath.Join(t.TempDir(), hash+".zip.tmp")

	f := newTestFetcher(64)
	if err := f.Fetch(context.Background(), srv.URL, pkg, hash, dest, func(uint64, uint64) {}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("fetched bytes differ from origin archive")
	}
}

func TestFetchMissingArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	dest := filepath.Join(t.TempDir(), "missing.zip.tmp")

	f := newTestFetcher(0)
	err := f.Fetch(context.Background(), srv.URL, pkg, "feedface", dest, func(uint64, uint64) {})
	if err == nil {
		t.Fatal("missing archive should fail the fetch")
	}
}
