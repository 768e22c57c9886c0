// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_uploads_accepted_total",
		Help: "Total number of files accepted by the upload widget",
	})

	UploadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickabook_uploads_rejected_total",
		Help: "Total number of files silently rejected by the upload widget",
	}, []string{"reason"})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_runs_started_total",
		Help: "Total number of workflow runs started",
	})

	RunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_runs_completed_total",
		Help: "Total number of workflow runs completed",
	})

	RunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pickabook_runs_failed_total",
		Help: "Total number of workflow runs failed, by failure kind",
	}, []string{"kind"})

	RunsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_runs_cancelled_total",
		Help: "Total number of workflow runs superseded or reset while in flight",
	})

	ResultPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_result_polls_total",
		Help: "Total number of result endpoint requests",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pickabook_run_duration_seconds",
		Help:    "Time from upload to terminal status",
		Buckets: []float64{1, 2, 5, 7.5, 10, 15, 30, 60, 120, 300},
	})

	PreviewsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pickabook_previews_active",
		Help: "Preview references currently held",
	})

	Downloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pickabook_downloads_total",
		Help: "Total number of result downloads served",
	})
)
