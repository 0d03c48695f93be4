package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/config"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

func newTestClient(baseURL string) *Client {
	return New(
		config.NodeConfig{BaseURL: baseURL, Timeout: 2 * time.Second},
		config.ClientConfig{BreakerFailures: 100, BreakerTimeout: time.Second},
		monitoring.NewMetricsWith(prometheus.NewRegistry()),
		logging.NewNop(),
	)
}

func chatID() types.PackageID {
	return types.PackageID{Name: "chat", Publisher: "alice.os"}
}

func TestApps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/apps", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{
			"package_id": "chat:alice.os",
			"tba": "0x2222222222222222222222222222222222222222",
			"metadata_uri": "https://example.com/meta.json",
			"metadata_hash": "abc123",
			"auto_update": true,
			"block": 1042,
			"metadata": {
				"name": "Chat",
				"properties": {
					"package_name": "chat",
					"publisher": "alice.os",
					"current_version": "1.2.0",
					"mirrors": ["alice.os", "https://mirror.example"],
					"code_hashes": [["1.2.0", "deadbeef"], ["1.1.0", "feedface"]]
				}
			}
		}]`)
	}))
	defer srv.Close()

	apps, err := newTestClient(srv.URL).Apps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)

	app := apps[0]
	assert.Equal(t, chatID(), app.PackageID)
	assert.True(t, app.AutoUpdate)
	assert.Equal(t, uint64(1042), app.Block)
	require.NotNil(t, app.Metadata)
	assert.Equal(t, "1.2.0", app.Metadata.Properties.CurrentVersion)

	hash, ok := app.Metadata.Properties.HashFor("1.2.0")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", hash)
}

func TestAppNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).App(context.Background(), chatID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestInstallRequires201(t *testing.T) {
	status := http.StatusCreated
	var gotPath string
	var gotBody versionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	err := client.Install(context.Background(), chatID(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "/apps/chat:alice.os/install", gotPath)
	assert.Equal(t, "deadbeef", gotBody.VersionHash)

	status = http.StatusOK
	err = client.Install(context.Background(), chatID(), "deadbeef")
	assert.Error(t, err, "daemon must confirm with 201")
}

func TestUninstallRequires204(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Uninstall(context.Background(), chatID())
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
}

func TestStartDownloadBody(t *testing.T) {
	var got downloadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/apps/chat:alice.os/download", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).StartDownload(context.Background(), chatID(), "deadbeef", "alice.os")
	require.NoError(t, err)
	assert.Equal(t, chatID(), got.PackageID)
	assert.Equal(t, "deadbeef", got.VersionHash)
	assert.Equal(t, "alice.os", got.DownloadFrom)
}

func TestMirrorCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mirrorcheck/chat:alice.os/bob.os", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"node": "bob.os", "is_online": false, "error": "connection refused"}`)
	}))
	defer srv.Close()

	check, err := newTestClient(srv.URL).MirrorCheck(context.Background(), chatID(), "bob.os")
	require.NoError(t, err)
	assert.Equal(t, "bob.os", check.Node)
	assert.False(t, check.IsOnline)
	require.NotNil(t, check.Error)
	assert.Equal(t, "connection refused", *check.Error)
}

func TestUpdatesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"chat:alice.os": {
				"deadbeef": {
					"errors": [["bob.os", "Timeout"], ["carol.os", "Offline"]],
					"pending_manifest_hash": "0xmanifest"
				}
			}
		}`)
	}))
	defer srv.Close()

	updates, err := newTestClient(srv.URL).Updates(context.Background())
	require.NoError(t, err)

	info, ok := updates["chat:alice.os"]["deadbeef"]
	require.True(t, ok)
	require.Len(t, info.Errors, 2)
	assert.Equal(t, "bob.os", info.Errors[0].Mirror)
	assert.Equal(t, types.DownloadTimeout, info.Errors[0].Error.Kind)
	assert.Equal(t, types.DownloadOffline, info.Errors[1].Error.Kind)
	assert.Equal(t, "0xmanifest", info.PendingManifestHash)
}

func TestSetMirroringMethods(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/downloads/chat:alice.os/mirror", r.URL.Path)
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	require.NoError(t, client.SetMirroring(context.Background(), chatID(), true))
	require.NoError(t, client.SetMirroring(context.Background(), chatID(), false))
	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestSetAutoUpdateMethods(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/apps/chat:alice.os/auto-update", r.URL.Path)
		var body versionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "deadbeef", body.VersionHash)
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	require.NoError(t, client.SetAutoUpdate(context.Background(), chatID(), "deadbeef", true))
	require.NoError(t, client.SetAutoUpdate(context.Background(), chatID(), "deadbeef", false))
	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestManifestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/manifest", r.URL.Path)
		assert.Equal(t, "chat:alice.os", r.URL.Query().Get("id"))
		assert.Equal(t, "deadbeef", r.URL.Query().Get("version_hash"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{
			"process_name": "chat",
			"process_wasm_path": "/chat.wasm",
			"on_exit": "Restart",
			"request_networking": true,
			"request_capabilities": ["homepage:homepage:sys", {"process": "vfs:distro:sys", "params": "{\"root\":true}"}],
			"grant_capabilities": [],
			"public": false
		}]`)
	}))
	defer srv.Close()

	manifests, err := newTestClient(srv.URL).Manifest(context.Background(), chatID(), "deadbeef")
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "chat", manifests[0].ProcessName)
	require.Len(t, manifests[0].RequestCapabilities, 2)
	assert.Equal(t, "vfs:distro:sys", manifests[0].RequestCapabilities[1].Process)
}

func TestDownloadsDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"Dir": {"name": "chat:alice.os", "mirroring": true}},
			{"File": {"name": "deadbeef.zip", "size": 4096, "manifest": "[]"}}
		]`)
	}))
	defer srv.Close()

	items, err := newTestClient(srv.URL).Downloads(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Dir)
	assert.True(t, items[0].Dir.Mirroring)
	require.NotNil(t, items[1].File)
	assert.Equal(t, uint64(4096), items[1].File.Size)
}
