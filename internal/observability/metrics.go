package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Utterance outcomes recorded by the coordinator
const (
	UtteranceClassified   = "classified"
	UtteranceNotAddressed = "not_addressed"
	UtteranceDroppedBusy  = "dropped_busy"
	UtteranceDuplicate    = "duplicate"
	UtteranceEcho         = "echo"
	UtteranceSuppressed   = "suppressed"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_agent_active_sessions",
		Help: "Number of meeting sessions currently listening",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_agent_sessions_total",
		Help: "Total number of meeting sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_agent_session_duration_seconds",
		Help:    "Duration of meeting sessions in seconds",
		Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Pipeline metrics
	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_utterances_total",
		Help: "Committed utterances by coordinator outcome",
	}, []string{"outcome"})

	wakeDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_agent_wake_detections_total",
		Help: "Number of wake phrase matches",
	})

	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_classifications_total",
		Help: "Intent classifications by result",
	}, []string{"result"}) // result: no_action, needs_info, action, error

	classificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_agent_classification_latency_seconds",
		Help:    "Intent classification latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_actions_total",
		Help: "Dispatched actions by kind and status",
	}, []string{"kind", "status"})

	actionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_agent_actions_in_flight",
		Help: "Background actions currently executing",
	})

	actionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meeting_agent_action_latency_seconds",
		Help:    "Background action latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"kind"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_agent_tts_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// STT metrics
	sttReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_stt_reconnects_total",
		Help: "Transcription session reconnect attempts",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meeting_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single meeting session
type Metrics struct {
	sessionID     string
	startTime     time.Time
	classifyStart time.Time
	ttsStartTime  time.Time
	mu            sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordUtterance records what the coordinator did with a committed utterance
func (m *Metrics) RecordUtterance(outcome string) {
	utterances.WithLabelValues(outcome).Inc()
}

// RecordWake records a wake phrase match
func (m *Metrics) RecordWake() {
	wakeDetections.Inc()
}

// RecordClassifyStart records the start of an intent classification
func (m *Metrics) RecordClassifyStart() {
	m.mu.Lock()
	m.classifyStart = time.Now()
	m.mu.Unlock()
}

// RecordClassifyEnd records the result of an intent classification
func (m *Metrics) RecordClassifyEnd(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.classifyStart.IsZero() {
		classificationLatency.Observe(time.Since(m.classifyStart).Seconds())
	}
	classifications.WithLabelValues(result).Inc()
}

// RecordActionStart records a background action being spawned
func (m *Metrics) RecordActionStart() {
	actionsInFlight.Inc()
}

// RecordActionEnd records a background action settling
func (m *Metrics) RecordActionEnd(kind string, success bool, elapsed time.Duration) {
	actionsInFlight.Dec()
	actionLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	actions.WithLabelValues(kind, statusLabel(success)).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSTTReconnect records the outcome of a transcription session reconnect
func RecordSTTReconnect(success bool) {
	sttReconnects.WithLabelValues(statusLabel(success)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
