package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Forward outcomes
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
	OutcomeChunked = "chunked"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Message channel metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Forward metrics
	Forwards      *prometheus.CounterVec
	UpstreamBytes *prometheus.HistogramVec

	// Consent metrics
	PromptsOpen     prometheus.Gauge
	PromptsResolved *prometheus.CounterVec

	// Chunk store metrics
	ChunkSetsActive prometheus.Gauge
	ChunksServed    prometheus.Counter

	// Filter metrics
	FilterRules prometheus.Gauge
	Resyncs     *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	registry  *prometheus.Registry
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveConnections int64   `json:"active_connections"`
	Forwards          int64   `json:"forwards"`
	Denied            int64   `json:"denied"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector on a fresh registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates a metrics collector on the given registry
func NewMetricsWith(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corsbroker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corsbroker_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corsbroker_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		RPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_rpc_calls_total",
				Help: "Total number of message channel calls",
			},
			[]string{"type", "status"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corsbroker_rpc_duration_seconds",
				Help:    "Message channel call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"type"},
		),

		Forwards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_forwards_total",
				Help: "Forwarded requests by outcome",
			},
			[]string{"outcome"},
		),
		UpstreamBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corsbroker_upstream_body_bytes",
				Help:    "Size of upstream response bodies",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"mime"},
		),

		PromptsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "corsbroker_prompts_open",
				Help: "Consent prompts awaiting a decision",
			},
		),
		PromptsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_prompts_resolved_total",
				Help: "Consent prompts resolved by decision",
			},
			[]string{"decision"},
		),

		ChunkSetsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "corsbroker_chunk_sets_active",
				Help: "Multi-part replies held in memory",
			},
		),
		ChunksServed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "corsbroker_chunks_served_total",
				Help: "Chunks read by callers",
			},
		),

		FilterRules: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "corsbroker_filter_rules",
				Help: "Session filter rules installed",
			},
		),
		Resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_filter_resyncs_total",
				Help: "Full filter resyncs by result",
			},
			[]string{"result"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "corsbroker_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corsbroker_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "corsbroker_uptime_seconds",
			Help: "Broker uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordRPC records a message channel call
func (m *Metrics) RecordRPC(msgType, status string, duration time.Duration) {
	m.RPCCalls.WithLabelValues(msgType, status).Inc()
	m.RPCDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordForward records the outcome of a forwarded request
func (m *Metrics) RecordForward(outcome string) {
	m.Forwards.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.Forwards++
	if outcome == OutcomeDenied {
		m.snapshot.Denied++
	}
	m.mu.Unlock()
}

// RecordUpstreamBody records the size and sniffed type of an upstream body
func (m *Metrics) RecordUpstreamBody(mime string, size int) {
	m.UpstreamBytes.WithLabelValues(mime).Observe(float64(size))
}

// PromptOpened tracks a new pending prompt
func (m *Metrics) PromptOpened() {
	m.PromptsOpen.Inc()
}

// PromptResolved tracks a prompt leaving the board
func (m *Metrics) PromptResolved(decision string) {
	m.PromptsOpen.Dec()
	m.PromptsResolved.WithLabelValues(decision).Inc()
}

// SetChunkSets sets the number of stored multi-part replies
func (m *Metrics) SetChunkSets(count int) {
	m.ChunkSetsActive.Set(float64(count))
}

// IncChunksServed counts a chunk read
func (m *Metrics) IncChunksServed() {
	m.ChunksServed.Inc()
}

// SetFilterRules sets the installed filter rule count
func (m *Metrics) SetFilterRules(count int) {
	m.FilterRules.Set(float64(count))
}

// RecordResync records a full filter resync
func (m *Metrics) RecordResync(result string) {
	m.Resyncs.WithLabelValues(result).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
