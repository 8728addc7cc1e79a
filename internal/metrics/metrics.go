// Package metrics exposes Prometheus collectors for the detection pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "violence_watch_frames_processed_total",
		Help: "Total number of frames classified, by verdict",
	}, []string{"verdict"})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "violence_watch_classification_duration_seconds",
		Help:    "Latency of a single classifier call",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	ClassificationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "violence_watch_classification_errors_total",
		Help: "Total number of failed classifier calls",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "violence_watch_notifications_total",
		Help: "Total number of alert email attempts, by result",
	}, []string{"result"})

	EpisodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "violence_watch_episodes_total",
		Help: "Total number of violence episodes started",
	})

	ViolenceDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "violence_watch_violence_detected",
		Help: "1 while the latest classified frame is violent",
	})

	ActiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "violence_watch_active_viewers",
		Help: "Number of connected video feed viewers",
	})

	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "violence_watch_frames_dropped_total",
		Help: "Total number of encoded frames dropped for slow viewers",
	})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "violence_watch_pipeline_runs_total",
		Help: "Total number of capture pipeline runs, by how they ended",
	}, []string{"reason"})
)

// Verdict label values
const (
	VerdictViolent = "violent"
	VerdictClear   = "clear"
)

// Notification result label values
const (
	ResultSent     = "sent"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
)

// BoolGauge converts a flag to a gauge value
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
