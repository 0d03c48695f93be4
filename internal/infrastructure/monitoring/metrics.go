package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Gateway HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Node daemon call metrics
	NodeCalls    *prometheus.CounterVec
	NodeDuration *prometheus.HistogramVec

	// Mirror probe metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration prometheus.Histogram

	// Transfer metrics
	DownloadsStarted   *prometheus.CounterVec
	DownloadsCompleted *prometheus.CounterVec
	DownloadBytes      prometheus.Counter
	ActiveTransfers    prometheus.Gauge

	// Install lifecycle metrics
	Installs   *prometheus.CounterVec
	Uninstalls *prometheus.CounterVec

	// Push channel metrics
	PushEvents     *prometheus.CounterVec
	PushReconnects prometheus.Counter

	// Relay metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON stats API
type MetricsSnapshot struct {
	TotalRequests     int64
	TotalErrors       int64
	ActiveTransfers   int64
	ActiveConnections int64
	TotalDuration     float64 // sum of all request durations
	RequestCount      int64   // count for averaging
}

// NewMetrics creates a metrics collector on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a specific registry.
// Tests pass their own registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_http_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storekeeper_http_request_duration_seconds",
				Help:    "Gateway HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		NodeCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_node_calls_total",
				Help: "Total number of store node daemon calls",
			},
			[]string{"operation", "status"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storekeeper_node_call_duration_seconds",
				Help:    "Store node daemon call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),

		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_mirror_probes_total",
				Help: "Total number of mirror liveness probes",
			},
			[]string{"result"},
		),
		ProbeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storekeeper_mirror_probe_duration_seconds",
				Help:    "Mirror probe duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		DownloadsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_downloads_started_total",
				Help: "Total number of downloads started, by mirror kind",
			},
			[]string{"source"},
		),
		DownloadsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_downloads_completed_total",
				Help: "Total number of terminal download events, by outcome",
			},
			[]string{"outcome"},
		),
		DownloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "storekeeper_download_bytes_total",
				Help: "Total archive bytes fetched directly by the agent",
			},
		),
		ActiveTransfers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "storekeeper_active_transfers",
				Help: "Number of transfers with live progress tracking",
			},
		),

		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_installs_total",
				Help: "Total number of install attempts, by result",
			},
			[]string{"result"},
		),
		Uninstalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_uninstalls_total",
				Help: "Total number of uninstall attempts, by result",
			},
			[]string{"result"},
		),

		PushEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_push_events_total",
				Help: "Total number of push-channel events received",
			},
			[]string{"kind"},
		),
		PushReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "storekeeper_push_reconnects_total",
				Help: "Total number of push-channel reconnects",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "storekeeper_ws_connections",
				Help: "Number of active relay subscriber connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storekeeper_ws_messages_total",
				Help: "Total number of relay messages",
			},
			[]string{"direction", "kind"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "storekeeper_uptime_seconds",
				Help: "Agent uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records a gateway request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordNodeCall records one store node daemon call
func (m *Metrics) RecordNodeCall(operation, status string, duration time.Duration) {
	m.NodeCalls.WithLabelValues(operation, status).Inc()
	m.NodeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProbe records a mirror probe outcome
func (m *Metrics) RecordProbe(result string, duration time.Duration) {
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(duration.Seconds())
}

// RecordDownloadStarted records a download start, by mirror kind
func (m *Metrics) RecordDownloadStarted(source string) {
	m.DownloadsStarted.WithLabelValues(source).Inc()
}

// RecordDownloadCompleted records a terminal download event
func (m *Metrics) RecordDownloadCompleted(outcome string) {
	m.DownloadsCompleted.WithLabelValues(outcome).Inc()
}

// AddDownloadBytes accumulates bytes fetched by the agent itself
func (m *Metrics) AddDownloadBytes(n int64) {
	m.DownloadBytes.Add(float64(n))
}

// SetActiveTransfers sets the live transfer gauge
func (m *Metrics) SetActiveTransfers(count int) {
	m.ActiveTransfers.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveTransfers = int64(count)
	m.mu.Unlock()
}

// RecordInstall records an install attempt result
func (m *Metrics) RecordInstall(result string) {
	m.Installs.WithLabelValues(result).Inc()
}

// RecordUninstall records an uninstall attempt result
func (m *Metrics) RecordUninstall(result string) {
	m.Uninstalls.WithLabelValues(result).Inc()
}

// RecordPushEvent records a push-channel event by kind
func (m *Metrics) RecordPushEvent(kind string) {
	m.PushEvents.WithLabelValues(kind).Inc()
}

// IncPushReconnects counts a push-channel reconnect
func (m *Metrics) IncPushReconnects() {
	m.PushReconnects.Inc()
}

// RecordWSMessage records a relay message
func (m *Metrics) RecordWSMessage(direction, kind string) {
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

// IncWSConnections increments relay connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements relay connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// GetSnapshot returns a copy of the JSON API snapshot
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
