package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Every recording method is safe on a nil *Metrics so components can run
// without monitoring in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheLookups   *prometheus.CounterVec
	NetworkFetches *prometheus.CounterVec
	Fallbacks      *prometheus.CounterVec
	RuntimePuts    *prometheus.CounterVec
	Evictions      prometheus.Counter

	// Version metrics
	InstallAssets *prometheus.CounterVec
	StoresDeleted prometheus.Counter
	KeysHealed    prometheus.Counter

	// Lifecycle metrics
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON status API.
type Snapshot struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Unavailable int64 `json:"unavailable"`
	Evictions   int64 `json:"evictions"`
}

// NewMetrics creates a metrics collector backed by its own registry, so
// several instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_cache_lookups_total",
				Help: "Cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		NetworkFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_network_fetches_total",
				Help: "Network fetches by outcome (ok, error)",
			},
			[]string{"outcome"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_fallbacks_total",
				Help: "Offline fallbacks served (navigation, unavailable)",
			},
			[]string{"kind"},
		),
		RuntimePuts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_runtime_puts_total",
				Help: "Runtime cache writes by outcome",
			},
			[]string{"outcome"},
		),
		Evictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_evictions_total",
				Help: "Runtime entries evicted by the FIFO pruner",
			},
		),

		InstallAssets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_install_assets_total",
				Help: "App-shell assets processed during install by result",
			},
			[]string{"result"},
		),
		StoresDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_stores_deleted_total",
				Help: "Stale cache stores deleted during activation",
			},
		),
		KeysHealed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_keys_healed_total",
				Help: "Known-bad cache keys removed during activation",
			},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_lifecycle_transitions_total",
				Help: "Worker lifecycle transitions by target state",
			},
			[]string{"state"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_notifications_total",
				Help: "Client notifications by delivery outcome",
			},
			[]string{"outcome"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLookup records a cache hit or miss.
func (m *Metrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()

	m.mu.Lock()
	if hit {
		m.snapshot.Hits++
	} else {
		m.snapshot.Misses++
	}
	m.mu.Unlock()
}

// RecordFetch records a network fetch outcome.
func (m *Metrics) RecordFetch(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.NetworkFetches.WithLabelValues(outcome).Inc()
}

// RecordFallback records an offline fallback of the given kind.
func (m *Metrics) RecordFallback(kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(kind).Inc()
	if kind == "unavailable" {
		m.mu.Lock()
		m.snapshot.Unavailable++
		m.mu.Unlock()
	}
}

// RecordPut records a runtime cache write.
func (m *Metrics) RecordPut(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RuntimePuts.WithLabelValues(outcome).Inc()
}

// AddEvictions records n evicted runtime entries.
func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
	m.mu.Lock()
	m.snapshot.Evictions += int64(n)
	m.mu.Unlock()
}

// RecordInstall records install results for the app shell.
func (m *Metrics) RecordInstall(cached, failed int) {
	if m == nil {
		return
	}
	m.InstallAssets.WithLabelValues("cached").Add(float64(cached))
	m.InstallAssets.WithLabelValues("failed").Add(float64(failed))
}

// RecordCleanup records activation cleanup results.
func (m *Metrics) RecordCleanup(stores, keys int) {
	if m == nil {
		return
	}
	m.StoresDeleted.Add(float64(stores))
	m.KeysHealed.Add(float64(keys))
}

// RecordTransition records a worker entering state.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

// RecordNotification records a client notification delivery attempt.
func (m *Metrics) RecordNotification(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current counters for the status API.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
