package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "konversi_scheduler_runs_total",
		Help: "Work runs by work name and result",
	}, []string{"work", "result"})

	workRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "konversi_scheduler_run_duration_seconds",
		Help:    "Duration of a single work run",
		Buckets: prometheus.DefBuckets,
	}, []string{"work"})
)
