package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// ScanHTTP lists the archive hashes an HTTP origin serves for a
// package by reading the anchors of its directory index page. Origins
// without an index (or with none of this package's archives) return
// an empty list, not an error.
func ScanHTTP(ctx context.Context, client *resty.Client, origin string, pkg types.PackageID) ([]string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("scan mirror: invalid origin %q: %w", origin, err)
	}
	indexURL := base.JoinPath(pkg.String()).String() + "/"

	resp, err := client.R().SetContext(ctx).Get(indexURL)
	if err != nil {
		return nil, fmt.Errorf("scan mirror %s: %w", origin, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scan mirror %s: status %d", origin, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("scan mirror %s: parse index: %w", origin, err)
	}

	var hashes []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasSuffix(href, ".zip") {
			return
		}
		name := strings.TrimSuffix(path.Base(href), ".zip")
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		hashes = append(hashes, name)
	})
	return hashes, nil
}

// HasArchive reports whether an HTTP origin serves a specific archive.
func HasArchive(ctx context.Context, client *resty.Client, origin string, pkg types.PackageID, versionHash string) (bool, error) {
	hashes, err := ScanHTTP(ctx, client, origin, pkg)
	if err != nil {
		return false, err
	}
	for _, h := range hashes {
		if h == versionHash {
			return true, nil
		}
	}
	return false, nil
}
