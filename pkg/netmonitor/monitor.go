package netmonitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

const (
	defaultInterval     = 15 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

var onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "konversi_network_online",
	Help: "1 when the upstream API was reachable on the last probe",
})

// Prober issues a request whose transport outcome decides connectivity.
type Prober interface {
	Head(ctx context.Context, path string) (int, error)
}

// Monitor tracks whether the upstream API is reachable. Any HTTP response
// counts as online; only transport failures count as offline.
type Monitor struct {
	prober   Prober
	path     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	online *stream.StateFlow[bool]
	done   chan struct{}
}

// New creates a Monitor probing path on prober every interval. It starts
// out online.
func New(prober Prober, path string, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	onlineGauge.Set(1)
	return &Monitor{
		prober:   prober,
		path:     path,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   logger.Named("netmonitor"),
		online:   stream.NewStateFlow(true),
		done:     make(chan struct{}),
	}
}

// IsOnline is the observable connectivity state.
func (m *Monitor) IsOnline() *stream.StateFlow[bool] {
	return m.online
}

// Start probes immediately and then every interval until ctx is cancelled
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// Stop ends Start. It must be called at most once.
func (m *Monitor) Stop() {
	close(m.done)
}

// Probe checks connectivity once, publishes and returns the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status, err := m.prober.Head(probeCtx, m.path)
	online := err == nil
	if ctx.Err() != nil {
		// shutting down; keep the last known state
		return m.online.Value()
	}

	if prev := m.online.Value(); prev != online {
		if online {
			m.logger.Info("network is back online", zap.Int("status", status))
		} else {
			m.logger.Warn("network went offline", zap.Error(err))
		}
	}

	if online {
		onlineGauge.Set(1)
	} else {
		onlineGauge.Set(0)
	}
	m.online.Set(online)
	return online
}

// WaitOnline blocks until the monitor reports online or ctx ends.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	sub, cancel := context.WithCancel(ctx)
	defer cancel()

	for online := range m.online.Subscribe(sub) {
		if online {
			return nil
		}
	}
	return ctx.Err()
}
