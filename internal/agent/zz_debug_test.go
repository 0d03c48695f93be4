package agent

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/archive"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
	"net/http/httptest"
)

func TestZZDebugSweep(t *testing.T) {
	pkg := types.PackageID{Name: "chat", Publisher: "bob.os"}
	blob, newHash := buildZip(t, plainManifest)
	origin := serveArchive(t, pkg, newHash, blob)

	listing := listingFor(pkg, "0.2.0", []string{origin.URL},
		"0.1.0", "aaaa1111", "0.2.0", newHash)

	d := &fakeDaemon{apps: []types.AppListing{listing}}
	daemon := httptest.NewServer(d.handler())
	t.Cleanup(daemon.Close)

	cfg := testConfig(t, daemon.URL)
	cfg.Logging.Level = "debug"
	cfg.Logging.Development = true
	a, err := newAgent(cfg, monitoring.NewMetricsWith(prometheus.NewRegistry()))
	require.NoError(t, err)
	a.store.UpsertListings([]types.AppListing{listing})
	a.store.SetInstalled(types.PackageState{
		PackageID:      pkg,
		OurVersionHash: "aaaa1111",
		CapsApproved:   true,
		AutoUpdate:     true,
		ManifestHash:   archive.HashManifest([]byte(plainManifest)),
	})

	t.Logf("classify=%v", a.installs.Classify(pkg))
	a.sweepAutoUpdates(context.Background())

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		st, ok := a.store.InstalledFor(pkg)
		if ok && st.OurVersionHash == newHash {
			t.Logf("SUCCESS")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	st, _ := a.store.InstalledFor(pkg)
	t.Fatalf("timeout; installed=%+v installs=%d hasCache=%v", st, d.installCount(), a.cache.Has(pkg, newHash))
}
