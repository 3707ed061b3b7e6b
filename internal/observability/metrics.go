package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Provisioning metrics
	provisionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_provision_requests_total",
		Help: "Total number of session provisioning requests",
	}, []string{"status"})

	provisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_provision_latency_seconds",
		Help:    "Session provisioning latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// State machine metrics
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_state_transitions_total",
		Help: "Total number of session state transitions",
	}, []string{"state"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	playbackChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_chunks_total",
		Help: "Total synthesized audio chunks scheduled for playback",
	})

	// Transcript metrics
	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_transcript_entries_total",
		Help: "Total transcript entries finalized",
	}, []string{"speaker"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// SessionMetrics tracks metrics for a single voice session
type SessionMetrics struct {
	sessionID          string
	startTime          time.Time
	provisionStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordProvisionStart records the start of a provisioning call
func (m *SessionMetrics) RecordProvisionStart() {
	m.mu.Lock()
	m.provisionStartTime = time.Now()
	m.mu.Unlock()
}

// RecordProvisionEnd records the outcome of a provisioning call
func (m *SessionMetrics) RecordProvisionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.provisionStartTime.IsZero() {
		provisionLatency.Observe(time.Since(m.provisionStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	provisionRequests.WithLabelValues(status).Inc()
}

// RecordStateTransition records entry into a session state
func (m *SessionMetrics) RecordStateTransition(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPlaybackChunk records one chunk scheduled for playback
func (m *SessionMetrics) RecordPlaybackChunk() {
	playbackChunks.Inc()
}

// RecordTranscriptEntry records a finalized transcript entry
func (m *SessionMetrics) RecordTranscriptEntry(speaker string) {
	transcriptEntries.WithLabelValues(speaker).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
