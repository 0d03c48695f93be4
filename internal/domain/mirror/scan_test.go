package mirror

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

const indexPage = `<html><body><h1>Index of /chat:alice.os/</h1><pre>
<a href="../">../</a>
<a href="deadbeef.zip">deadbeef.zip</a>
<a href="cafebabe.zip">cafebabe.zip</a>
<a href="manifest.json">manifest.json</a>
<a href="deadbeef.zip">deadbeef.zip (mirror)</a>
</pre></body></html>`

func TestScanHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat:alice.os/", r.URL.Path)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, indexPage)
	}))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	hashes, err := ScanHTTP(context.Background(), resty.New(), srv.URL, pkg)
	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeef", "cafebabe"}, hashes, "zip anchors only, deduplicated in order")
}

func TestScanHTTPEmptyIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>nothing here</body></html>`)
	}))
	defer srv.Close()

	hashes, err := ScanHTTP(context.Background(), resty.New(), srv.URL,
		types.PackageID{Name: "chat", Publisher: "alice.os"})
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestScanHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := ScanHTTP(context.Background(), resty.New(), srv.URL,
		types.PackageID{Name: "chat", Publisher: "alice.os"})
	assert.Error(t, err)
}

func TestScanHTTPBadOrigin(t *testing.T) {
	_, err := ScanHTTP(context.Background(), resty.New(), "://bad",
		types.PackageID{Name: "chat", Publisher: "alice.os"})
	assert.Error(t, err)
}

func TestHasArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, indexPage)
	}))
	defer srv.Close()

	pkg := types.PackageID{Name: "chat", Publisher: "alice.os"}
	ok, err := HasArchive(context.Background(), resty.New(), srv.URL, pkg, "cafebabe")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasArchive(context.Background(), resty.New(), srv.URL, pkg, "00000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
