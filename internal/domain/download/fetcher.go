package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// DefaultChunkSize is the ranged-request size for direct fetches.
const DefaultChunkSize int64 = 262144

// ProgressFunc observes cumulative transfer progress. total is zero
// when the origin does not announce a length.
type ProgressFunc func(downloaded, total uint64)

// Fetcher pulls archives from HTTP origins.
type Fetcher struct {
	client    *resty.Client
	chunkSize int64
	metrics   *monitoring.Metrics
	logger    *logging.Logger
}

// NewFetcher creates a fetcher issuing requests through client.
func NewFetcher(client *resty.Client, chunkSize int64, metrics *monitoring.Metrics, logger *logging.Logger) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Fetcher{client: client, chunkSize: chunkSize, metrics: metrics, logger: logger}
}

// ArchiveURL returns the conventional location of an archive on an
// HTTP origin: <origin>/<name:publisher>/<version_hash>.zip.
func ArchiveURL(origin string, pkg types.PackageID, versionHash string) (string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	return base.JoinPath(pkg.String(), versionHash+".zip").String(), nil
}

// Fetch downloads an archive into dest, reporting progress after each
// chunk. Origins that announce a length and accept ranges are read in
// chunkSize pieces; everything else streams in one request.
func (f *Fetcher) Fetch(ctx context.Context, origin string, pkg types.PackageID, versionHash, dest string, progress ProgressFunc) error {
	archiveURL, err := ArchiveURL(origin, pkg, versionHash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	size, ranged := f.probe(ctx, archiveURL)
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer file.Close()

	if ranged && size > 0 {
		return f.fetchChunked(ctx, archiveURL, file, size, progress)
	}
	return f.fetchStreaming(ctx, archiveURL, file, progress)
}

// probe asks the origin for the archive size and range support.
func (f *Fetcher) probe(ctx context.Context, archiveURL string) (int64, bool) {
	resp, err := f.client.R().SetContext(ctx).Head(archiveURL)
	if err != nil || resp.IsError() {
		return 0, false
	}
	size, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, false
	}
	return size, resp.Header().Get("Accept-Ranges") == "bytes"
}

func (f *Fetcher) fetchChunked(ctx context.Context, archiveURL string, file *os.File, size int64, progress ProgressFunc) error {
	for off := int64(0); off < size; off += f.chunkSize {
		end := off + f.chunkSize - 1
		if end >= size {
			end = size - 1
		}

		resp, err := f.client.R().
			SetContext(ctx).
			SetHeader("Range", fmt.Sprintf("bytes=%d-%d", off, end)).
			Get(archiveURL)
		if err != nil {
			return fmt.Errorf("fetch chunk at %d: %w", off, err)
		}

		switch resp.StatusCode() {
		case http.StatusPartialContent:
			n, err := file.Write(resp.Body())
			if err != nil {
				return fmt.Errorf("write chunk at %d: %w", off, err)
			}
			f.metrics.AddDownloadBytes(int64(n))
			progress(uint64(off)+uint64(n), uint64(size))
		case http.StatusOK:
			// Origin ignored the range header and sent everything.
			if off != 0 {
				return fmt.Errorf("origin dropped range support mid-transfer")
			}
			if err := file.Truncate(0); err != nil {
				return err
			}
			n, err := file.Write(resp.Body())
			if err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			f.metrics.AddDownloadBytes(int64(n))
			progress(uint64(n), uint64(size))
			return nil
		default:
			return fmt.Errorf("fetch chunk at %d: status %d", off, resp.StatusCode())
		}
	}
	f.logger.Debug("chunked fetch complete",
		zap.String("url", archiveURL),
		zap.Int64("bytes", size))
	return nil
}

func (f *Fetcher) fetchStreaming(ctx context.Context, archiveURL string, file *os.File, progress ProgressFunc) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(archiveURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", archiveURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return fmt.Errorf("fetch %s: status %d", archiveURL, resp.StatusCode())
	}

	var total uint64
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > 0 {
		total = uint64(resp.RawResponse.ContentLength)
	}

	buf := make([]byte, f.chunkSize)
	var downloaded uint64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write archive: %w", werr)
			}
			downloaded += uint64(n)
			f.metrics.AddDownloadBytes(int64(n))
			progress(downloaded, total)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read archive stream: %w", rerr)
		}
	}
}
