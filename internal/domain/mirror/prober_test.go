package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

type fakeChecker struct {
	mu     sync.Mutex
	online map[string]bool
	errs   map[string]error
	delays map[string]time.Duration
	probed []string
}

func (f *fakeChecker) MirrorCheck(ctx context.Context, _ types.PackageID, node string) (*types.MirrorCheck, error) {
	f.mu.Lock()
	f.probed = append(f.probed, node)
	delay := f.delays[node]
	err := f.errs[node]
	online := f.online[node]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !online {
		msg := "host unreachable"
		return &types.MirrorCheck{Node: node, IsOnline: false, Error: &msg}, nil
	}
	return &types.MirrorCheck{Node: node, IsOnline: true}, nil
}

func (f *fakeChecker) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probed)
}

func newTestProber(checker Checker) (*Prober, *state.Store) {
	store := state.NewStore()
	p := NewProber(checker, store, 200*time.Millisecond,
		monitoring.NewMetricsWith(prometheus.NewRegistry()), logging.NewNop())
	return p, store
}

func chatListing(mirrors ...string) types.AppListing {
	return types.AppListing{
		PackageID: types.PackageID{Name: "chat", Publisher: "alice.os"},
		Metadata: &types.OnchainMetadata{
			Properties: types.MetadataProperties{Mirrors: mirrors},
		},
	}
}

func TestCandidatesOrderAndDedup(t *testing.T) {
	p, store := newTestProber(&fakeChecker{})
	listing := chatListing("alice.os", "bob.os", "https://mirror.example")
	store.AddCustomMirror(listing.PackageID, "carol.os")
	store.AddCustomMirror(listing.PackageID, "bob.os")

	got := p.Candidates(listing)
	assert.Equal(t, []string{"alice.os", "bob.os", "https://mirror.example", "carol.os"}, got)
}

func TestHTTPMirrorShortCircuits(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{}}
	p, store := newTestProber(checker)
	listing := chatListing("alice.os", "https://mirror.example")

	sel, err := p.SelectMirror(context.Background(), listing)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example", sel.Mirror)
	assert.Equal(t, types.MirrorHTTP, sel.Status)
	assert.Zero(t, checker.probeCount(), "no liveness checks for an http origin")
	assert.Equal(t, types.MirrorHTTP, store.MirrorStatuses(listing.PackageID)["https://mirror.example"])
}

func TestHTTPFallbackAfterNodeProbeFails(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{"alice.os": false}}
	p, _ := newTestProber(checker)
	listing := chatListing("alice.os", "https://mirror.example")

	status := p.ProbeOne(context.Background(), listing.PackageID, "alice.os")
	assert.Equal(t, types.MirrorOffline, status)

	sel, err := p.SelectMirror(context.Background(), listing)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example", sel.Mirror)
	assert.Equal(t, types.MirrorHTTP, sel.Status)
	assert.Equal(t, []string{"alice.os", "https://mirror.example"}, sel.Candidates)
	assert.Equal(t, types.MirrorOffline, sel.Statuses["alice.os"], "earlier probe result stays visible")
}

func TestFirstOnlineNodeWins(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{"alice.os": false, "bob.os": true}}
	p, store := newTestProber(checker)

	sel, err := p.SelectMirror(context.Background(), chatListing("alice.os", "bob.os"))
	require.NoError(t, err)
	assert.Equal(t, "bob.os", sel.Mirror)
	assert.Equal(t, types.MirrorOnline, sel.Status)
	assert.Equal(t, types.MirrorOnline, store.MirrorStatuses(chatPkg())["bob.os"])
}

func chatPkg() types.PackageID {
	return types.PackageID{Name: "chat", Publisher: "alice.os"}
}

func TestAllOfflineReportsEveryStatus(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{}}
	p, _ := newTestProber(checker)

	sel, err := p.SelectMirror(context.Background(), chatListing("alice.os", "bob.os"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoMirrors))
	assert.Empty(t, sel.Mirror)
	assert.Equal(t, []string{"alice.os", "bob.os"}, sel.Candidates)
	assert.Equal(t, types.MirrorOffline, sel.Statuses["alice.os"])
	assert.Equal(t, types.MirrorOffline, sel.Statuses["bob.os"])
}

func TestProbeErrorDegradesToOffline(t *testing.T) {
	checker := &fakeChecker{
		online: map[string]bool{"bob.os": true},
		errs:   map[string]error{"alice.os": errors.New("dial tcp: connection refused")},
	}
	p, _ := newTestProber(checker)

	sel, err := p.SelectMirror(context.Background(), chatListing("alice.os", "bob.os"))
	require.NoError(t, err, "one failing probe never aborts selection")
	assert.Equal(t, "bob.os", sel.Mirror)
	assert.Equal(t, types.MirrorOffline, sel.Statuses["alice.os"])
}

func TestProbeTimeoutCountsAsOffline(t *testing.T) {
	checker := &fakeChecker{
		online: map[string]bool{"alice.os": true},
		delays: map[string]time.Duration{"alice.os": 2 * time.Second},
	}
	p, _ := newTestProber(checker)

	start := time.Now()
	_, err := p.SelectMirror(context.Background(), chatListing("alice.os"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoMirrors))
	assert.Less(t, time.Since(start), time.Second, "probe bounded by its own timeout")
}

func TestProbesRunConcurrently(t *testing.T) {
	delay := 80 * time.Millisecond
	checker := &fakeChecker{
		online: map[string]bool{},
		delays: map[string]time.Duration{"a.os": delay, "b.os": delay, "c.os": delay},
	}
	p, _ := newTestProber(checker)

	start := time.Now()
	_, err := p.SelectMirror(context.Background(), chatListing("a.os", "b.os", "c.os"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*delay, "probes overlap instead of running serially")
}

func TestProbeOneResetsStaleStatus(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{"alice.os": true}}
	p, store := newTestProber(checker)
	pkg := chatPkg()

	store.SetMirrorStatus(pkg, "alice.os", types.MirrorOffline)

	status := p.ProbeOne(context.Background(), pkg, "alice.os")
	assert.Equal(t, types.MirrorOnline, status)
	assert.Equal(t, types.MirrorOnline, store.MirrorStatuses(pkg)["alice.os"])
}

func TestProbeOneHTTPOrigin(t *testing.T) {
	checker := &fakeChecker{}
	p, store := newTestProber(checker)
	pkg := chatPkg()

	status := p.ProbeOne(context.Background(), pkg, "https://mirror.example")
	assert.Equal(t, types.MirrorHTTP, status)
	assert.Zero(t, checker.probeCount())
	assert.Equal(t, types.MirrorHTTP, store.MirrorStatuses(pkg)["https://mirror.example"])
}

func TestLatencyRecorded(t *testing.T) {
	checker := &fakeChecker{online: map[string]bool{"alice.os": true}}
	p, _ := newTestProber(checker)

	p.ProbeOne(context.Background(), chatPkg(), "alice.os")

	stats, ok := p.LatencyFor("alice.os")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Samples)
	assert.Contains(t, p.Latencies(), "alice.os")
}
