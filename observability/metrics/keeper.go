package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type KeeperMetrics struct {
	scans           prometheus.Counter
	scanDuration    prometheus.Histogram
	duePositions    prometheus.Gauge
	settled         *prometheus.CounterVec
	failures        *prometheus.CounterVec
	webhookRequests *prometheus.CounterVec
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			scans: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "keeper_scans_total",
				Help: "Count of due-position scans executed.",
			}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "keeper_scan_duration_seconds",
				Help:    "Duration of a due-position scan including settlements.",
				Buckets: prometheus.DefBuckets,
			}),
			duePositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "keeper_due_positions",
				Help: "Positions found due in the most recent scan.",
			}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "keeper_settled_total",
				Help: "Positions settled by the keeper by trigger source.",
			}, []string{"source"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "keeper_failures_total",
				Help: "Keeper settlement attempts that failed by source and reason.",
			}, []string{"source", "reason"}),
			webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "keeper_webhook_requests_total",
				Help: "Webhook deliveries by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			keeperRegistry.scans,
			keeperRegistry.scanDuration,
			keeperRegistry.duePositions,
			keeperRegistry.settled,
			keeperRegistry.failures,
			keeperRegistry.webhookRequests,
		)
	})
	return keeperRegistry
}

func (m *KeeperMetrics) ObserveScan(due int, duration time.Duration) {
	if m == nil {
		return
	}
	m.scans.Inc()
	m.duePositions.Set(float64(due))
	m.scanDuration.Observe(duration.Seconds())
}

func (m *KeeperMetrics) IncSettled(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	m.settled.WithLabelValues(source).Inc()
}

func (m *KeeperMetrics) IncFailure(source, reason string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.failures.WithLabelValues(source, reason).Inc()
}

func (m *KeeperMetrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.webhookRequests.WithLabelValues(outcome).Inc()
}
