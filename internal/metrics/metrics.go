package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds pipeline and monitor counters.
// One instance may be shared by several streams.
type Metrics struct {
	// Frame counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64
	SinkFrames      atomic.Uint64

	// Detection counters
	Detections     atomic.Uint64
	BelowThreshold atomic.Uint64
	MappingGaps    atomic.Uint64

	// Error counters
	ModelFailures atomic.Uint64
	SinkErrors    atomic.Uint64
	SourceErrors  atomic.Uint64

	InferenceLatencyMs atomic.Uint64 // Last inference latency in ms
	AnnotateLatencyMs  atomic.Uint64 // Last render latency in ms

	ActiveStreams atomic.Int64

	// Monitor fanout
	Subscribers      atomic.Int64
	SubscriberDrops  atomic.Uint64
	WebRTCClients    atomic.Int64
	WebRTCTotalPeers atomic.Uint64
	RecordingActive  atomic.Uint64 // 0 = inactive, 1 = active
	RecordingFrames  atomic.Uint64

	detectionsByCategory *prometheus.CounterVec
	inferenceSeconds     prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectionsByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "annotator_detections_by_category_total",
			Help: "Detections emitted, by resolved category and threat tier",
		}, []string{"category", "threat"}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "annotator_inference_seconds",
			Help:    "Detection model call duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
	m.registry.MustRegister(m.detectionsByCategory, m.inferenceSeconds)
	m.registerGauges()
	return m
}

type gauge struct {
	name string
	help string
	read func() float64
}

func u64(v *atomic.Uint64) func() float64 { return func() float64 { return float64(v.Load()) } }
func i64(v *atomic.Int64) func() float64  { return func() float64 { return float64(v.Load()) } }

func (m *Metrics) registerGauges() {
	gauges := []gauge{
		{"annotator_frames_read_total", "Frames read from sources", u64(&m.FramesRead)},
		{"annotator_frames_processed_total", "Frames run through detection and annotation", u64(&m.FramesProcessed)},
		{"annotator_frames_skipped_total", "Frames skipped by frame_skip or the skip failure policy", u64(&m.FramesSkipped)},
		{"annotator_sink_frames_total", "Annotated frames written to sinks", u64(&m.SinkFrames)},
		{"annotator_detections_total", "Detections at or above threshold", u64(&m.Detections)},
		{"annotator_detections_below_threshold_total", "Raw detections dropped by threshold or empty boxes", u64(&m.BelowThreshold)},
		{"annotator_mapping_gaps_total", "Detections whose class id had no category", u64(&m.MappingGaps)},
		{"annotator_model_failures_total", "Detection model failures", u64(&m.ModelFailures)},
		{"annotator_sink_errors_total", "Sink open and write failures", u64(&m.SinkErrors)},
		{"annotator_source_errors_total", "Source open and read failures", u64(&m.SourceErrors)},
		{"annotator_inference_latency_ms", "Last detection model latency in milliseconds", u64(&m.InferenceLatencyMs)},
		{"annotator_annotate_latency_ms", "Last overlay render latency in milliseconds", u64(&m.AnnotateLatencyMs)},
		{"annotator_active_streams", "Streams currently open", i64(&m.ActiveStreams)},
		{"annotator_subscribers", "Connected SSE and MJPEG subscribers", i64(&m.Subscribers)},
		{"annotator_subscriber_drops_total", "Events dropped for slow subscribers", u64(&m.SubscriberDrops)},
		{"annotator_webrtc_clients", "Connected WebRTC data channel peers", i64(&m.WebRTCClients)},
		{"annotator_webrtc_peers_total", "WebRTC peers accepted", u64(&m.WebRTCTotalPeers)},
		{"annotator_recording_active", "Recording active (0=inactive, 1=active)", u64(&m.RecordingActive)},
		{"annotator_recording_frames", "Frames written to the current recording", u64(&m.RecordingFrames)},
	}
	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.read,
		))
	}
}

// ObserveInference records one model call.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
	m.inferenceSeconds.Observe(d.Seconds())
}

// ObserveAnnotate records one overlay render.
func (m *Metrics) ObserveAnnotate(d time.Duration) {
	m.AnnotateLatencyMs.Store(uint64(d.Milliseconds()))
}

// CountDetection adds one emitted detection for category at the given tier.
func (m *Metrics) CountDetection(category, threat string) {
	m.Detections.Add(1)
	m.detectionsByCategory.WithLabelValues(category, threat).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
