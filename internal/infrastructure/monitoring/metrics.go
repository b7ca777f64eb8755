package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Store metrics
	TracesRecorded  prometheus.Counter
	TracesCompleted prometheus.Counter
	TracesEvicted   prometheus.Counter
	TracesTruncated *prometheus.CounterVec
	TracesCleared   prometheus.Counter
	TracesResident  prometheus.Gauge

	// Store operation timings
	StoreDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSDropped     *prometheus.CounterVec
	Broadcasts    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracehub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)
	m.ResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracehub_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	m.TracesRecorded = factory.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_traces_recorded_total",
		Help: "Total number of traces recorded",
	})
	m.TracesCompleted = factory.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_traces_completed_total",
		Help: "Total number of traces that received a response",
	})
	m.TracesEvicted = factory.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_traces_evicted_total",
		Help: "Total number of traces evicted by capacity",
	})
	m.TracesTruncated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_traces_truncated_total",
			Help: "Total number of payloads truncated at capture",
		},
		[]string{"part"},
	)
	m.TracesCleared = factory.NewCounter(prometheus.CounterOpts{
		Name: "tracehub_traces_cleared_total",
		Help: "Total number of store clears",
	})
	m.TracesResident = factory.NewGauge(prometheus.GaugeOpts{
		Name: "tracehub_traces_resident",
		Help: "Number of traces currently held by the store",
	})
	m.StoreDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracehub_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{.00001, .0001, .0005, .001, .005, .01, .05},
		},
		[]string{"operation", "source"},
	)

	m.WSConnections = factory.NewGauge(prometheus.GaugeOpts{
		Name: "tracehub_ws_connections",
		Help: "Number of open WebSocket channels",
	})
	m.WSMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_ws_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"},
	)
	m.WSDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_ws_dropped_channels_total",
			Help: "Channels closed by the hub",
		},
		[]string{"reason"},
	)
	m.Broadcasts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_broadcasts_total",
			Help: "Total number of broadcast events",
		},
		[]string{"type"},
	)

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tracehub_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordTrace records a stored trace and which of its payloads were cut
func (m *Metrics) RecordTrace(bodyTruncated, responseTruncated bool) {
	if m == nil {
		return
	}
	m.TracesRecorded.Inc()
	if bodyTruncated {
		m.TracesTruncated.WithLabelValues("request").Inc()
	}
	if responseTruncated {
		m.TracesTruncated.WithLabelValues("response").Inc()
	}
}

// RecordCompletion records a trace receiving its response
func (m *Metrics) RecordCompletion(responseTruncated bool) {
	if m == nil {
		return
	}
	m.TracesCompleted.Inc()
	if responseTruncated {
		m.TracesTruncated.WithLabelValues("response").Inc()
	}
}

// RecordEvictions records traces dropped by capacity
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TracesEvicted.Add(float64(n))
}

// RecordClear records a store clear
func (m *Metrics) RecordClear() {
	if m == nil {
		return
	}
	m.TracesCleared.Inc()
}

// SetResident sets the number of resident traces
func (m *Metrics) SetResident(n int) {
	if m == nil {
		return
	}
	m.TracesResident.Set(float64(n))
}

// RecordStoreOperation records how long a store operation took
func (m *Metrics) RecordStoreOperation(operation, source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(operation, source).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordDroppedChannel records a channel the hub closed on its own
func (m *Metrics) RecordDroppedChannel(reason string) {
	if m == nil {
		return
	}
	m.WSDropped.WithLabelValues(reason).Inc()
}

// RecordBroadcast records one broadcast event
func (m *Metrics) RecordBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(eventType).Inc()
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
