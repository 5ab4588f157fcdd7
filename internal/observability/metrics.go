package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mudra_active_sessions",
		Help: "Number of open pipeline sessions",
	})

	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mudra_frames_processed_total",
		Help: "Frames that completed a pipeline pass",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mudra_frames_dropped_total",
		Help: "Frames evicted from a session queue before processing",
	})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mudra_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5},
	}, []string{"stage"})

	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mudra_stage_errors_total",
		Help: "Recoverable stage failures by kind",
	}, []string{"stage", "kind"})

	sessionFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudra_session_fps",
		Help: "Frames per second over the last sampling interval",
	}, []string{"session"})

	stageDisabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mudra_stage_disabled",
		Help: "1 when the quality controller has disabled a stage",
	}, []string{"session", "stage"})

	processCPU = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mudra_process_cpu_percent",
		Help: "Process CPU usage over the last sampling interval",
	})

	processMemory = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mudra_process_memory_mb",
		Help: "Process resident memory in megabytes",
	})

	textEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mudra_text_events_total",
		Help: "Confirmed letters, words and sentences",
	}, []string{"kind"})

	speechRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mudra_speech_requests_total",
		Help: "Speech synthesis requests by outcome",
	}, []string{"status"})

	speechLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mudra_speech_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	sentencesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mudra_sentences_published_total",
		Help: "Confirmed sentences sent to the MQTT broker by outcome",
	}, []string{"status"})
)

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge and drops the
// session's labelled series.
func SessionClosed(sessionID string) {
	activeSessions.Dec()
	sessionFPS.DeleteLabelValues(sessionID)
	stageDisabled.DeletePartialMatch(prometheus.Labels{"session": sessionID})
}

// RecordFrame records one completed frame.
func RecordFrame() { framesProcessed.Inc() }

// RecordDropped records frames evicted by backpressure.
func RecordDropped(n int) { framesDropped.Add(float64(n)) }

// RecordStageLatency records the latency of one stage run.
func RecordStageLatency(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordStageError counts a recoverable stage failure. kind is
// "timeout", "busy", "canceled" or "error".
func RecordStageError(stage, kind string) {
	stageErrors.WithLabelValues(stage, kind).Inc()
}

// SetSessionFPS publishes the FPS of a session.
func SetSessionFPS(sessionID string, fps float64) {
	sessionFPS.WithLabelValues(sessionID).Set(fps)
}

// SetStageDisabled publishes whether a stage is disabled for a session.
func SetStageDisabled(sessionID, stage string, disabled bool) {
	v := 0.0
	if disabled {
		v = 1
	}
	stageDisabled.WithLabelValues(sessionID, stage).Set(v)
}

// SetProcessUsage publishes process CPU and memory usage.
func SetProcessUsage(cpuPercent, memoryMB float64) {
	processCPU.Set(cpuPercent)
	processMemory.Set(memoryMB)
}

// RecordTextEvent counts a text event by kind: "letter", "word",
// "sentence" or "suppressed".
func RecordTextEvent(kind string) {
	textEvents.WithLabelValues(kind).Inc()
}

// RecordSpeech records the outcome of one synthesis request.
func RecordSpeech(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	speechRequests.WithLabelValues(status).Inc()
	speechLatency.Observe(latency.Seconds())
}

// RecordSpeechDropped counts a sentence dropped because the speech queue
// was full.
func RecordSpeechDropped() {
	speechRequests.WithLabelValues("dropped").Inc()
}

// RecordSentencePublished records the outcome of one MQTT publish.
func RecordSentencePublished(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sentencesPublished.WithLabelValues(status).Inc()
}
