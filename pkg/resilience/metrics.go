package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total number of operation attempts made through Retry",
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "Total number of Retry calls that gave up without success",
	}, []string{"operation"})
)

func metricName(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

func recordRetryAttempt(name string) {
	retryAttemptsTotal.WithLabelValues(name).Inc()
}

func recordRetryExhausted(name string) {
	retryExhaustedTotal.WithLabelValues(name).Inc()
}
