package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ebookpdf"

var (
	JobsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of conversion jobs started.",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of conversion jobs finished, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of the converter process (seconds).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"outcome"},
	)

	JobOutputBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_output_bytes_total",
			Help:      "Total converter stdout bytes streamed to clients.",
		},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Conversion jobs currently running.",
		},
	)

	WorkspacesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspaces_active",
			Help:      "Job workspaces currently present on disk.",
		},
	)

	WorkspaceCleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspace_cleanup_total",
			Help:      "Workspace removals, labeled by result (ok, swept, error).",
		},
		[]string{"result"},
	)

	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Conversions refused before starting, labeled by reason (rate, busy).",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsStartedTotal,
		JobsCompletedTotal,
		JobDurationSeconds,
		JobOutputBytesTotal,
		JobsInFlight,
		WorkspacesActive,
		WorkspaceCleanupTotal,
		AdmissionRejectionsTotal,
	)
}

func OutcomeLabel(succeeded bool) string {
	if succeeded {
		return "succeeded"
	}
	return "failed"
}
