package mirror

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const latencyWindowSize = 64

// LatencyStats summarizes recent probe round trips for one mirror.
// Display only; selection never consults these.
type LatencyStats struct {
	Samples int     `json:"samples"`
	MeanMS  float64 `json:"mean_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type latencyWindow struct {
	mu      sync.Mutex
	samples map[string][]float64
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make(map[string][]float64)}
}

func (w *latencyWindow) record(mirror string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[mirror], ms)
	if len(s) > latencyWindowSize {
		s = s[len(s)-latencyWindowSize:]
	}
	w.samples[mirror] = s
}

func (w *latencyWindow) statsFor(mirror string) (LatencyStats, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.samples[mirror]
	if len(s) == 0 {
		return LatencyStats{}, false
	}
	sorted := append([]float64{}, s...)
	sort.Float64s(sorted)
	return LatencyStats{
		Samples: len(sorted),
		MeanMS:  stat.Mean(sorted, nil),
		P50MS:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95MS:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		MaxMS:   sorted[len(sorted)-1],
	}, true
}

func (w *latencyWindow) all() map[string]LatencyStats {
	w.mu.Lock()
	mirrors := make([]string, 0, len(w.samples))
	for m := range w.samples {
		mirrors = append(mirrors, m)
	}
	w.mu.Unlock()

	out := make(map[string]LatencyStats, len(mirrors))
	for _, m := range mirrors {
		if stats, ok := w.statsFor(m); ok {
			out[m] = stats
		}
	}
	return out
}

// LatencyFor returns probe latency summaries for one mirror.
func (p *Prober) LatencyFor(mirror string) (LatencyStats, bool) {
	return p.window.statsFor(mirror)
}

// Latencies returns summaries for every mirror probed so far.
func (p *Prober) Latencies() map[string]LatencyStats {
	return p.window.all()
}
