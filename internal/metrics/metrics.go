package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Chunk pipeline counters
	ChunksRead            atomic.Uint64
	ChunksInspected       atomic.Uint64
	ChunksDropped         atomic.Uint64
	WebRTCChunksSent      atomic.Uint64
	WebRTCChunksDropped   atomic.Uint64
	RecorderChunksSent    atomic.Uint64
	RecorderChunksDropped atomic.Uint64

	// Inspection verdicts
	GopStarts        atomic.Uint64
	NonGopStarts     atomic.Uint64
	FramesDetected   atomic.Uint64
	MultiFrameChunks atomic.Uint64 // Chunks holding more than one slice
	ParameterChanges atomic.Uint64

	// Error counters
	ReadErrors     atomic.Uint64
	InspectErrors  atomic.Uint64
	WebRTCErrors   atomic.Uint64
	RecorderErrors atomic.Uint64

	// Latency tracking
	ChunkLatencyMs   atomic.Uint64 // Latency of the last chunk since its timestamp, in ms
	InspectLatencyUs atomic.Uint64 // Last inspection duration in µs

	// Buffer usage
	WebRTCBufferUsage   atomic.Uint64 // Percentage (0-100)
	RecorderBufferUsage atomic.Uint64 // Percentage (0-100)

	// WebRTC client tracking
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Recording state
	RecordingActive   atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes    atomic.Uint64
	RecordingChunks   atomic.Uint64
	RecordingSegments atomic.Uint64

	// Stream parameters of the last GOP start
	CodedWidth  atomic.Uint64
	CodedHeight atomic.Uint64

	inspectErrorsByKind *prometheus.CounterVec
	inspectDuration     prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Chunk pipeline
	m.gauge("gop_chunks_read_total", "Total chunks read from the source", &m.ChunksRead)
	m.gauge("gop_chunks_inspected_total", "Total chunks inspected", &m.ChunksInspected)
	m.gauge("gop_chunks_dropped_total", "Total chunks dropped before inspection", &m.ChunksDropped)
	m.gauge("gop_webrtc_chunks_sent_total", "Total chunks sent to WebRTC clients", &m.WebRTCChunksSent)
	m.gauge("gop_webrtc_chunks_dropped_total", "Total WebRTC chunks dropped", &m.WebRTCChunksDropped)
	m.gauge("gop_recorder_chunks_sent_total", "Total chunks handed to the recorder", &m.RecorderChunksSent)
	m.gauge("gop_recorder_chunks_dropped_total", "Total recorder chunks dropped", &m.RecorderChunksDropped)

	// Verdicts
	m.gauge("gop_starts_total", "Chunks classified as a closed GOP start", &m.GopStarts)
	m.gauge("gop_non_starts_total", "Chunks classified as not starting a GOP", &m.NonGopStarts)
	m.gauge("gop_frames_detected_total", "Slices counted across all inspected chunks", &m.FramesDetected)
	m.gauge("gop_multi_frame_chunks_total", "Chunks holding more than one slice", &m.MultiFrameChunks)
	m.gauge("gop_parameter_changes_total", "Encoding detail changes seen at GOP starts", &m.ParameterChanges)

	// Errors
	m.gauge("gop_read_errors_total", "Total source read errors", &m.ReadErrors)
	m.gauge("gop_inspect_errors_total", "Total chunk inspection errors", &m.InspectErrors)
	m.gauge("gop_webrtc_errors_total", "Total WebRTC errors", &m.WebRTCErrors)
	m.gauge("gop_recorder_errors_total", "Total recorder errors", &m.RecorderErrors)

	m.inspectErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gop_inspect_errors_by_kind_total",
		Help: "Chunk inspection errors by kind",
	}, []string{"kind"})
	m.registry.MustRegister(m.inspectErrorsByKind)

	m.inspectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gop_inspect_duration_seconds",
		Help:    "Chunk inspection duration",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
	m.registry.MustRegister(m.inspectDuration)

	// Latency
	m.gauge("gop_chunk_latency_ms", "Latency of the last chunk since its timestamp in milliseconds", &m.ChunkLatencyMs)
	m.gauge("gop_inspect_latency_us", "Last inspection duration in microseconds", &m.InspectLatencyUs)

	// Buffers
	m.gauge("gop_webrtc_buffer_usage_percent", "WebRTC buffer usage percentage", &m.WebRTCBufferUsage)
	m.gauge("gop_recorder_buffer_usage_percent", "Recorder buffer usage percentage", &m.RecorderBufferUsage)

	// Clients
	m.gauge("gop_active_clients", "Number of active WebRTC clients", &m.ActiveClients)
	m.gauge("gop_total_clients", "Total WebRTC clients connected", &m.TotalClients)

	// Recording
	m.gauge("gop_recording_active", "Recording active (0=inactive, 1=active)", &m.RecordingActive)
	m.gauge("gop_recording_bytes", "Total bytes written to recording", &m.RecordingBytes)
	m.gauge("gop_recording_chunks", "Total chunks written to recording", &m.RecordingChunks)
	m.gauge("gop_recording_segments", "Segment files opened by the current recording", &m.RecordingSegments)

	// Stream
	m.gauge("gop_coded_width", "Coded width of the stream at the last GOP start", &m.CodedWidth)
	m.gauge("gop_coded_height", "Coded height of the stream at the last GOP start", &m.CodedHeight)
}

// ObserveInspection records the duration of one chunk inspection
func (m *Metrics) ObserveInspection(d time.Duration) {
	m.InspectLatencyUs.Store(uint64(d.Microseconds()))
	m.inspectDuration.Observe(d.Seconds())
}

// InspectError counts an inspection error of the given kind
func (m *Metrics) InspectError(kind string) {
	m.InspectErrors.Add(1)
	m.inspectErrorsByKind.WithLabelValues(kind).Inc()
}

// UpdateChunkLatency updates the chunk latency
func (m *Metrics) UpdateChunkLatency(timestamp time.Time) {
	latency := time.Since(timestamp).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.ChunkLatencyMs.Store(uint64(latency))
}

// UpdateBufferUsage updates buffer usage percentages
func (m *Metrics) UpdateBufferUsage(webrtcUsed, webrtcCap, recorderUsed, recorderCap int) {
	if webrtcCap > 0 {
		usage := uint64(webrtcUsed * 100 / webrtcCap)
		m.WebRTCBufferUsage.Store(usage)
	}
	if recorderCap > 0 {
		usage := uint64(recorderUsed * 100 / recorderCap)
		m.RecorderBufferUsage.Store(usage)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and embedding
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
