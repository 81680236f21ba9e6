package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asr_gateway_active_connections",
		Help: "Number of active client connections",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_gateway_connections_total",
		Help: "Total number of client connections accepted",
	})

	rejectedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_gateway_connections_rejected_total",
		Help: "Connections refused due to the concurrent connection limit",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asr_gateway_session_duration_seconds",
		Help:    "Duration of client connections in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// Segment metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_gateway_segments_total",
		Help: "Total audio segments by outcome",
	}, []string{"status"}) // sealed, final, timeout, error, rejected

	segmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asr_gateway_segment_latency_seconds",
		Help:    "Time from segment submission to final result",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Recognition result metrics
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_gateway_results_total",
		Help: "Recognition results relayed to clients",
	}, []string{"kind"}) // partial, final

	// Backend metrics
	backendReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_gateway_backend_reconnects_total",
		Help: "Reopened backend recognition streams",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "asr_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asr_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "backend"
)

// Metrics tracks metrics for a single client connection
type Metrics struct {
	connectionID string
	startTime    time.Time
	segmentStart map[uint64]time.Time
	mu           sync.Mutex
}

// NewConnectionMetrics creates a new metrics tracker for a connection
func NewConnectionMetrics(connectionID string) *Metrics {
	return &Metrics{
		connectionID: connectionID,
		startTime:    time.Now(),
		segmentStart: make(map[uint64]time.Time),
	}
}

// RecordConnectionStart records the start of a connection
func (m *Metrics) RecordConnectionStart() {
	activeConnections.Inc()
	totalConnections.Inc()
}

// RecordConnectionEnd records the end of a connection
func (m *Metrics) RecordConnectionEnd() {
	activeConnections.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSegmentSealed records a VAD-sealed segment entering the pipeline
func (m *Metrics) RecordSegmentSealed(seq uint64) {
	m.mu.Lock()
	m.segmentStart[seq] = time.Now()
	m.mu.Unlock()
	segmentsTotal.WithLabelValues("sealed").Inc()
}

// RecordSegmentOutcome records the terminal state of a segment
func (m *Metrics) RecordSegmentOutcome(seq uint64, status string) {
	m.mu.Lock()
	start, ok := m.segmentStart[seq]
	delete(m.segmentStart, seq)
	m.mu.Unlock()

	if ok && status == "final" {
		segmentLatency.Observe(time.Since(start).Seconds())
	}
	segmentsTotal.WithLabelValues(status).Inc()
}

// RecordResult records a recognition result relayed to the client
func (m *Metrics) RecordResult(isFinal bool) {
	kind := "partial"
	if isFinal {
		kind = "final"
	}
	resultsTotal.WithLabelValues(kind).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBackendAudioBytes records audio bytes forwarded to the backend
func RecordBackendAudioBytes(bytes int) {
	audioBytesProcessed.WithLabelValues("backend").Add(float64(bytes))
}

// RecordConnectionRejected records a connection refused at the limit
func RecordConnectionRejected() {
	rejectedConnections.Inc()
}

// RecordBackendReconnect records a reopened backend stream
func RecordBackendReconnect() {
	backendReconnects.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
