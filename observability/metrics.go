package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records HTTP route activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics

	depositMetricsOnce sync.Once
	depositRegistry    *DepositMetrics
)

// Gateway returns the process-wide gateway metrics, registering them on
// first use.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests by route group, route and status class.",
			}, []string{"module", "route", "class"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dework",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway handler latency.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			}, []string{"module"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests refused by the rate limiter.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.latency, gatewayRegistry.throttles)
	})
	return gatewayRegistry
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Observe records a finished request with the status actually written.
func (m *GatewayMetrics) Observe(module, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = label(module)
	m.requests.WithLabelValues(module, label(route), statusClass(status)).Inc()
	m.latency.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. reason is a fixed token such as
// "rate_limit".
func (m *GatewayMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(module), label(reason)).Inc()
}

// DepositMetrics tracks registry activity and pool health.
type DepositMetrics struct {
	opens       prometheus.Counter
	settlements *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	reentrancy  prometheus.Counter
	poolValue   prometheus.Gauge
	poolNominal prometheus.Gauge
	active      prometheus.Gauge
	paused      prometheus.Gauge
}

// Deposit exposes the metrics registry for the position registry.
func Deposit() *DepositMetrics {
	depositMetricsOnce.Do(func() {
		depositRegistry = &DepositMetrics{
			opens: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "opened_total",
				Help:      "Count of positions opened.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "settled_total",
				Help:      "Count of settlements segmented by termination path.",
			}, []string{"path"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "rejections_total",
				Help:      "Count of rejected operations segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			reentrancy: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "reentrancy_rejections_total",
				Help:      "Count of calls refused because a settlement was already in flight.",
			}),
			poolValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dework",
				Subsystem: "pool",
				Name:      "total_value",
				Help:      "Value held by the bound yield venue in integer token units.",
			}),
			poolNominal: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dework",
				Subsystem: "pool",
				Name:      "total_nominal",
				Help:      "Sum of outstanding nominal deposits in integer token units.",
			}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "active_positions",
				Help:      "Number of unsettled positions.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dework",
				Subsystem: "deposit",
				Name:      "pause_engaged",
				Help:      "Indicates whether the registry pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			depositRegistry.opens,
			depositRegistry.settlements,
			depositRegistry.rejections,
			depositRegistry.reentrancy,
			depositRegistry.poolValue,
			depositRegistry.poolNominal,
			depositRegistry.active,
			depositRegistry.paused,
		)
	})
	return depositRegistry
}

func (m *DepositMetrics) RecordOpen() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

// RecordSettlement counts a settlement along path.
func (m *DepositMetrics) RecordSettlement(path string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(label(path)).Inc()
}

// RecordRejection counts a failed operation by its error kind.
func (m *DepositMetrics) RecordRejection(operation, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(operation), label(kind)).Inc()
}

func (m *DepositMetrics) RecordReentrancy() {
	if m == nil {
		return
	}
	m.reentrancy.Inc()
}

// RecordPool updates the pool gauges.
func (m *DepositMetrics) RecordPool(value, nominal *big.Int, active int) {
	if m == nil {
		return
	}
	m.poolValue.Set(bigToFloat(value))
	m.poolNominal.Set(bigToFloat(nominal))
	m.active.Set(float64(active))
}

// SetPause toggles the pause_engaged gauge.
func (m *DepositMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) {
		return 0
	}
	return f
}
