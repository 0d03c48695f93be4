package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kinode-dao/storekeeper/internal/domain/state"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Checker probes one node mirror's liveness out of band.
type Checker interface {
	MirrorCheck(ctx context.Context, pkg types.PackageID, node string) (*types.MirrorCheck, error)
}

// Selection is the outcome of mirror selection for one listing.
type Selection struct {
	Mirror     string                        `json:"mirror"`
	Status     types.MirrorStatus            `json:"status"`
	Candidates []string                      `json:"candidates"`
	Statuses   map[string]types.MirrorStatus `json:"statuses"`
}

// Prober assembles mirror candidates and picks a live one.
type Prober struct {
	checker Checker
	store   *state.Store
	timeout time.Duration
	http    *resty.Client
	metrics *monitoring.Metrics
	logger  *logging.Logger
	window  *latencyWindow
}

// NewProber creates a prober. timeout bounds each individual probe.
func NewProber(checker Checker, store *state.Store, timeout time.Duration, metrics *monitoring.Metrics, logger *logging.Logger) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		checker: checker,
		store:   store,
		timeout: timeout,
		http:    resty.New().SetTimeout(timeout),
		metrics: metrics,
		logger:  logger,
		window:  newLatencyWindow(),
	}
}

// ScanOrigin lists the archive hashes an HTTP origin serves for pkg.
func (p *Prober) ScanOrigin(ctx context.Context, pkg types.PackageID, origin string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return ScanHTTP(ctx, p.http, origin, pkg)
}

// Candidates returns the deduplicated mirror candidates for a
// listing: publisher node first, then metadata mirrors, then any
// user-added mirrors, each in first-seen order.
func (p *Prober) Candidates(listing types.AppListing) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(m string) {
		if m == "" {
			return
		}
		if _, dup := seen[m]; dup {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}

	add(listing.PackageID.Publisher)
	if listing.Metadata != nil {
		for _, m := range listing.Metadata.Properties.Mirrors {
			add(m)
		}
	}
	for _, m := range p.store.CustomMirrors(listing.PackageID) {
		add(m)
	}
	return out
}

// SelectMirror picks a download source for the listing.
//
// An HTTP origin anywhere in the candidate set wins immediately with
// no probing. Otherwise every node mirror is probed concurrently and
// the first to come back online is selected. When nothing is online
// the error still carries the full candidate list and status map so
// callers can display what was tried.
func (p *Prober) SelectMirror(ctx context.Context, listing types.AppListing) (Selection, error) {
	pkg := listing.PackageID
	candidates := p.Candidates(listing)

	var nodes []string
	httpMirror := ""
	for _, m := range candidates {
		if types.IsHTTPMirror(m) {
			p.store.SetMirrorStatus(pkg, m, types.MirrorHTTP)
			if httpMirror == "" {
				httpMirror = m
			}
		} else {
			nodes = append(nodes, m)
		}
	}

	if httpMirror != "" {
		return Selection{
			Mirror:     httpMirror,
			Status:     types.MirrorHTTP,
			Candidates: candidates,
			Statuses:   p.statusesFor(pkg, candidates),
		}, nil
	}

	type verdict struct {
		mirror string
		status types.MirrorStatus
	}
	results := make(chan verdict, len(nodes))
	for _, m := range nodes {
		p.store.SetMirrorStatus(pkg, m, types.MirrorUnknown)
		go func(m string) {
			status := p.probe(ctx, pkg, m)
			p.store.SetMirrorStatus(pkg, m, status)
			results <- verdict{mirror: m, status: status}
		}(m)
	}

	for range nodes {
		select {
		case v := <-results:
			if v.status == types.MirrorOnline {
				return Selection{
					Mirror:     v.mirror,
					Status:     types.MirrorOnline,
					Candidates: candidates,
					Statuses:   p.statusesFor(pkg, candidates),
				}, nil
			}
		case <-ctx.Done():
			return Selection{Candidates: candidates, Statuses: p.statusesFor(pkg, candidates)}, ctx.Err()
		}
	}

	p.logger.Warn("no mirrors available",
		zap.String("package", pkg.String()),
		zap.Int("candidates", len(candidates)))
	return Selection{
		Candidates: candidates,
		Statuses:   p.statusesFor(pkg, candidates),
	}, fmt.Errorf("select mirror for %s: %w", pkg, types.ErrNoMirrors)
}

// ProbeOne re-probes a single mirror, resetting its recorded status
// to unknown before the probe runs. HTTP origins resolve to http
// without a probe.
func (p *Prober) ProbeOne(ctx context.Context, pkg types.PackageID, mirror string) types.MirrorStatus {
	if types.IsHTTPMirror(mirror) {
		p.store.SetMirrorStatus(pkg, mirror, types.MirrorHTTP)
		return types.MirrorHTTP
	}
	p.store.SetMirrorStatus(pkg, mirror, types.MirrorUnknown)
	status := p.probe(ctx, pkg, mirror)
	p.store.SetMirrorStatus(pkg, mirror, status)
	return status
}

func (p *Prober) probe(ctx context.Context, pkg types.PackageID, mirror string) types.MirrorStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	check, err := p.checker.MirrorCheck(ctx, pkg, mirror)
	elapsed := time.Since(start)
	p.window.record(mirror, elapsed)

	switch {
	case err != nil:
		p.metrics.RecordProbe("error", elapsed)
		p.logger.Debug("mirror probe failed",
			zap.String("mirror", mirror),
			zap.Error(err))
		return types.MirrorOffline
	case !check.IsOnline:
		p.metrics.RecordProbe("offline", elapsed)
		return types.MirrorOffline
	default:
		p.metrics.RecordProbe("online", elapsed)
		return types.MirrorOnline
	}
}

// statusesFor merges stored statuses over the candidate list, so
// earlier probe results stay visible next to fresh ones.
func (p *Prober) statusesFor(pkg types.PackageID, candidates []string) map[string]types.MirrorStatus {
	stored := p.store.MirrorStatuses(pkg)
	out := make(map[string]types.MirrorStatus, len(candidates))
	for _, m := range candidates {
		if s, ok := stored[m]; ok {
			out[m] = s
			continue
		}
		out[m] = types.MirrorUnknown
	}
	return out
}
