package node

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

type downloadRequest struct {
	PackageID    types.PackageID `json:"package_id"`
	VersionHash  string          `json:"version_hash"`
	DownloadFrom string          `json:"download_from"`
}

type versionRequest struct {
	VersionHash string `json:"version_hash"`
}

// Apps fetches every listing the daemon indexes.
func (c *Client) Apps(ctx context.Context) ([]types.AppListing, error) {
	var out []types.AppListing
	if err := c.get(ctx, "/apps", "apps", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// App fetches a single listing.
func (c *Client) App(ctx context.Context, id types.PackageID) (*types.AppListing, error) {
	var out types.AppListing
	if err := c.get(ctx, "/apps/"+id.String(), "app", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OurApps fetches listings published by this node.
func (c *Client) OurApps(ctx context.Context) ([]types.AppListing, error) {
	var out []types.AppListing
	if err := c.get(ctx, "/ourapps", "ourapps", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Installed fetches the state of every installed package.
func (c *Client) Installed(ctx context.Context) ([]types.PackageState, error) {
	var out []types.PackageState
	if err := c.get(ctx, "/installed", "installed", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InstalledApp fetches the state of one installed package.
func (c *Client) InstalledApp(ctx context.Context, id types.PackageID) (*types.PackageState, error) {
	var out types.PackageState
	if err := c.get(ctx, "/installed/"+id.String(), "installed_app", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Downloads fetches the root of the local download inventory.
func (c *Client) Downloads(ctx context.Context) ([]types.DownloadItem, error) {
	var out []types.DownloadItem
	if err := c.get(ctx, "/downloads", "downloads", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadsFor fetches the archive entries under one package.
func (c *Client) DownloadsFor(ctx context.Context, id types.PackageID) ([]types.DownloadItem, error) {
	var out []types.DownloadItem
	if err := c.get(ctx, "/downloads/"+id.String(), "downloads_for", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MirrorCheck asks the daemon whether a node mirror is reachable.
func (c *Client) MirrorCheck(ctx context.Context, id types.PackageID, node string) (*types.MirrorCheck, error) {
	var out types.MirrorCheck
	path := fmt.Sprintf("/mirrorcheck/%s/%s", id, node)
	if err := c.get(ctx, path, "mirrorcheck", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Updates fetches the daemon's auto-update failure ledger.
func (c *Client) Updates(ctx context.Context) (types.Updates, error) {
	var out types.Updates
	if err := c.get(ctx, "/updates", "updates", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Manifest fetches the parsed process manifests of a stored archive.
func (c *Client) Manifest(ctx context.Context, id types.PackageID, versionHash string) ([]types.PackageManifest, error) {
	var out []types.PackageManifest
	path := "/manifest?id=" + url.QueryEscape(id.String()) + "&version_hash=" + url.QueryEscape(versionHash)
	if err := c.get(ctx, path, "manifest", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartDownload asks the daemon to fetch an archive from a mirror.
func (c *Client) StartDownload(ctx context.Context, id types.PackageID, versionHash, downloadFrom string) error {
	body := downloadRequest{PackageID: id, VersionHash: versionHash, DownloadFrom: downloadFrom}
	return c.do(ctx, c.write, resty.MethodPost, "/apps/"+id.String()+"/download", "start_download",
		body, nil, http.StatusOK, http.StatusCreated)
}

// Install asks the daemon to install a downloaded archive.
func (c *Client) Install(ctx context.Context, id types.PackageID, versionHash string) error {
	return c.do(ctx, c.write, resty.MethodPost, "/apps/"+id.String()+"/install", "install",
		versionRequest{VersionHash: versionHash}, nil, http.StatusCreated)
}

// Uninstall asks the daemon to remove an installed package.
func (c *Client) Uninstall(ctx context.Context, id types.PackageID) error {
	return c.do(ctx, c.write, resty.MethodDelete, "/apps/"+id.String(), "uninstall",
		nil, nil, http.StatusNoContent)
}

// RemoveDownload deletes a stored archive from the daemon.
func (c *Client) RemoveDownload(ctx context.Context, id types.PackageID, versionHash string) error {
	return c.do(ctx, c.write, resty.MethodPost, "/downloads/"+id.String()+"/remove", "remove_download",
		versionRequest{VersionHash: versionHash}, nil)
}

// SetMirroring starts or stops serving a package's archives to other
// nodes.
func (c *Client) SetMirroring(ctx context.Context, id types.PackageID, enable bool) error {
	method, op := resty.MethodPut, "start_mirroring"
	if !enable {
		method, op = resty.MethodDelete, "stop_mirroring"
	}
	return c.do(ctx, c.write, method, "/downloads/"+id.String()+"/mirror", op, nil, nil)
}

// SetAutoUpdate opts a package in or out of automatic updates.
func (c *Client) SetAutoUpdate(ctx context.Context, id types.PackageID, versionHash string, enable bool) error {
	method, op := resty.MethodPut, "enable_auto_update"
	if !enable {
		method, op = resty.MethodDelete, "disable_auto_update"
	}
	return c.do(ctx, c.write, method, "/apps/"+id.String()+"/auto-update", op,
		versionRequest{VersionHash: versionHash}, nil)
}

// ClearUpdates drops the failure ledger entries for one package.
func (c *Client) ClearUpdates(ctx context.Context, id types.PackageID) error {
	return c.do(ctx, c.write, resty.MethodPost, "/updates/"+id.String()+"/clear", "clear_updates", nil, nil)
}

// Reset asks the daemon to rebuild its listing state from chain.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, c.write, resty.MethodPost, "/reset", "reset", nil, nil)
}
