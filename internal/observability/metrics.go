package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_active_sessions",
		Help: "Number of active chat sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_sessions_total",
		Help: "Total number of chat sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_session_duration_seconds",
		Help:    "Duration of chat sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
	})

	// Playback metrics
	playbackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playback_transitions_total",
		Help: "Playback state transitions by resulting state",
	}, []string{"state"})

	playbackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playback_errors_total",
		Help: "Playback failures by error kind",
	}, []string{"kind"})

	activeResources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_playback_active_resources",
		Help: "Number of live audio resources (0 or 1)",
	})

	// Payment watch metrics
	pollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_payment_poll_attempts_total",
		Help: "Total payment status poll attempts issued",
	})

	watchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_payment_watch_outcomes_total",
		Help: "Terminal payment watch outcomes",
	}, []string{"outcome"})

	// Backend API metrics
	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_client_api_request_duration_seconds",
		Help:    "Backend request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"endpoint", "status"})

	apiErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_api_errors_total",
		Help: "Backend request failures by endpoint",
	}, []string{"endpoint"})

	// Capture metrics
	captureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_capture_duration_seconds",
		Help:    "Recorded utterance length in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single chat session
type Metrics struct {
	sessionID string
	startTime time.Time
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

// RecordPlaybackState counts a transition into the given playback state
func RecordPlaybackState(state string) {
	playbackTransitions.WithLabelValues(state).Inc()
}

// RecordPlaybackError counts a playback failure by kind
func RecordPlaybackError(kind string) {
	playbackErrors.WithLabelValues(kind).Inc()
}

// SetActiveResources sets the live audio resource gauge
func SetActiveResources(n int) {
	activeResources.Set(float64(n))
}

// RecordPollAttempt counts one issued payment status query
func RecordPollAttempt() {
	pollAttempts.Inc()
}

// RecordWatchOutcome counts a terminal payment watch outcome
func RecordWatchOutcome(outcome string) {
	watchOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAPIRequest records latency for one backend request
func ObserveAPIRequest(endpoint, status string, duration time.Duration) {
	apiRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordAPIError counts a backend request failure
func RecordAPIError(endpoint string) {
	apiErrors.WithLabelValues(endpoint).Inc()
}

// ObserveCaptureDuration records the length of a recorded utterance
func ObserveCaptureDuration(d time.Duration) {
	captureDuration.Observe(d.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
