// Package metrics defines the Prometheus metrics exported by netperf-analyzer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatasetLoads counts result loads by outcome: "ok", "error" or
	// "timeout".
	DatasetLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperf_dataset_loads_total",
			Help: "Number of dataset result loads, by status.",
		},
		[]string{"status"},
	)

	// LoadDuration is the time taken to load a single results file.
	LoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netperf_dataset_load_duration_seconds",
			Help:    "Time taken to load a results file.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// ErrorsReported counts error records by category and severity.
	ErrorsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperf_errors_reported_total",
			Help: "Number of errors reported during analysis runs.",
		},
		[]string{"category", "severity"},
	)

	// AnalysisDuration is the time taken by each analysis kind.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netperf_analysis_duration_seconds",
			Help:    "Time taken by an analysis, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"kind"},
	)

	// AnomaliesDetected counts detected anomalies by metric and severity.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperf_anomalies_detected_total",
			Help: "Number of performance anomalies detected.",
		},
		[]string{"metric", "severity"},
	)

	// Runs counts engine runs by final state.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netperf_runs_total",
			Help: "Number of analysis runs, by final state.",
		},
		[]string{"state"},
	)
)
