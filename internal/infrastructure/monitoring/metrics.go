package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Loader metrics
	FetchesTotal   prometheus.Counter
	FetchDuration  prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	LoadsInFlight  prometheus.Gauge
	LoadsCancelled prometheus.Counter
	LoadFailures   *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the JSON stats API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current counters for the JSON stats API.
type Snapshot struct {
	Requests       int64   `json:"requests"`
	Fetches        int64   `json:"fetches"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	Cancelled      int64   `json:"cancelled"`
	Failures       int64   `json:"failures"`
	InFlight       int64   `json:"in_flight"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	AvgFetchMillis float64 `json:"avg_fetch_ms"`

	fetchMillisSum float64
}

// NewMetrics creates a metrics collector. It registers with the default
// Prometheus registry, so construct it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilefetch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilefetch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		FetchesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_fetches_total",
				Help: "Total number of network fetches started",
			},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tilefetch_fetch_duration_seconds",
				Help:    "Network fetch duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
			},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_cache_hits_total",
				Help: "Loads served from the image cache",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_cache_misses_total",
				Help: "Loads that required a network fetch",
			},
		),
		LoadsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilefetch_loads_in_flight",
				Help: "Number of loads currently in flight",
			},
		),
		LoadsCancelled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tilefetch_loads_cancelled_total",
				Help: "Loads cancelled before settling",
			},
		),
		LoadFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilefetch_load_failures_total",
				Help: "Failed loads by reason",
			},
			[]string{"reason"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilefetch_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Requests++
	m.mu.Unlock()
}

// RecordFetchStart records a network fetch beginning.
func (m *Metrics) RecordFetchStart() {
	m.FetchesTotal.Inc()
	m.LoadsInFlight.Inc()

	m.mu.Lock()
	m.snapshot.Fetches++
	m.snapshot.InFlight++
	m.mu.Unlock()
}

// RecordFetchDone records a network fetch leaving the in-flight set.
func (m *Metrics) RecordFetchDone(duration time.Duration) {
	m.LoadsInFlight.Dec()
	m.FetchDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.InFlight--
	m.snapshot.fetchMillisSum += float64(duration.Milliseconds())
	m.mu.Unlock()
}

// RecordCacheHit records a load served from cache.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()

	m.mu.Lock()
	m.snapshot.CacheHits++
	m.mu.Unlock()
}

// RecordCacheMiss records a load that had to go to the network.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()

	m.mu.Lock()
	m.snapshot.CacheMisses++
	m.mu.Unlock()
}

// RecordCancellation records a load cancelled before settling.
func (m *Metrics) RecordCancellation() {
	m.LoadsCancelled.Inc()

	m.mu.Lock()
	m.snapshot.Cancelled++
	m.mu.Unlock()
}

// RecordFailure records a failed load by reason ("network" or "decode").
func (m *Metrics) RecordFailure(reason string) {
	m.LoadFailures.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.Failures++
	m.mu.Unlock()
}

// GetSnapshot returns current counter values for the JSON stats API.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	m.Uptime.Set(snap.UptimeSeconds)
	if snap.Fetches > 0 {
		snap.AvgFetchMillis = snap.fetchMillisSum / float64(snap.Fetches)
	}
	return snap
}
