package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice keyboard service
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsFinalized prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Slice metrics
	SlicesProduced prometheus.Counter
	SlicesSkipped  prometheus.Counter
	SlicesFailed   prometheus.Counter
	SliceSize      prometheus.Histogram

	// Voice activity gate metrics
	GateDecisions      prometheus.Counter
	GateSpeechDetected prometheus.Counter
	GateProcessingTime prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// Deduplication metrics
	DedupCleaned  prometheus.Counter
	DedupTierHits *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vk_active_sessions",
			Help: "Current number of live dictation sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_sessions_started_total",
			Help: "Total number of dictation sessions started",
		}),
		SessionsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_sessions_finalized_total",
			Help: "Total number of dictation sessions finalized",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vk_session_duration_seconds",
			Help:    "Recorded duration of dictation sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Slice metrics
		SlicesProduced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_slices_produced_total",
			Help: "Total number of audio slices produced",
		}),
		SlicesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_slices_skipped_total",
			Help: "Total number of slices settled without a network call",
		}),
		SlicesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_slices_failed_total",
			Help: "Total number of slices settled in error state",
		}),
		SliceSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vk_slice_size_bytes",
			Help:    "Size of produced audio slices in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Voice activity gate metrics
		GateDecisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_gate_decisions_total",
			Help: "Total number of voice activity gate evaluations",
		}),
		GateSpeechDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_gate_speech_detected_total",
			Help: "Total number of gate evaluations that detected speech",
		}),
		GateProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vk_gate_processing_duration_seconds",
			Help:    "Time spent evaluating the voice activity gate",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vk_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// Deduplication metrics
		DedupCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vk_dedup_cleaned_total",
			Help: "Total number of fragments run through the dedup funnel",
		}),
		DedupTierHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vk_dedup_tier_hits_total",
			Help: "Dedup funnel outcomes by resolving tier",
		}, []string{"tier"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vk_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments session counters
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// SetActiveSessions sets the current number of live sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionFinalized increments the finalized counter and records duration
func (m *Metrics) RecordSessionFinalized(durationSeconds float64) {
	m.SessionsFinalized.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSliceProduced records one produced slice
func (m *Metrics) RecordSliceProduced(sizeBytes int) {
	m.SlicesProduced.Inc()
	m.SliceSize.Observe(float64(sizeBytes))
}

// RecordSliceSkipped increments the skipped slices counter
func (m *Metrics) RecordSliceSkipped() {
	m.SlicesSkipped.Inc()
}

// RecordSliceFailed increments the failed slices counter
func (m *Metrics) RecordSliceFailed() {
	m.SlicesFailed.Inc()
}

// RecordGateDecision records one gate evaluation
func (m *Metrics) RecordGateDecision(hasSpeech bool, processingTimeSeconds float64) {
	m.GateDecisions.Inc()
	if hasSpeech {
		m.GateSpeechDetected.Inc()
	}
	m.GateProcessingTime.Observe(processingTimeSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordDedupResult records one dedup funnel outcome
func (m *Metrics) RecordDedupResult(tier string) {
	m.DedupCleaned.Inc()
	m.DedupTierHits.WithLabelValues(tier).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
