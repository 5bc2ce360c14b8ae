package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidenceflow_runs_total",
		Help: "Total number of pipeline runs, by terminal status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evidenceflow_stage_duration_seconds",
		Help:    "Duration of individual pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evidenceflow_frames_extracted_total",
		Help: "Total number of frames extracted across all runs",
	})

	StageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidenceflow_stage_retries_total",
		Help: "Total number of stage retries, by stage",
	}, []string{"stage"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evidenceflow_active_runs",
		Help: "Number of pipeline runs currently in flight",
	})
)
