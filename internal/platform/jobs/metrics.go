package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivcare_job_runs_total",
			Help: "Total number of batch job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivcare_job_duration_seconds",
			Help:    "Batch job run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)

	TasksGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivcare_tasks_generated_total",
			Help: "Total number of tasks created by the generator by type",
		},
		[]string{"type"},
	)

	SummariesRefreshed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivcare_summaries_refreshed_total",
			Help: "Total number of clinical summaries recomputed",
		},
	)
)
