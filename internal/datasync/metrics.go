package datasync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeUpdated   = "updated"
	outcomeFresh     = "fresh"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "konversi_sync_runs_total",
		Help: "Total number of synchronization attempts by data kind and outcome",
	}, []string{"kind", "outcome"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "konversi_sync_duration_seconds",
		Help:    "Duration of synchronization attempts in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

func recordSync(kind, outcome string, seconds float64) {
	syncRunsTotal.WithLabelValues(kind, outcome).Inc()
	syncDuration.WithLabelValues(kind).Observe(seconds)
}
