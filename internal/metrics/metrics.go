package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "farmstore"

// Metrics はサービス全体で使うコレクタ。
type Metrics struct {
	Admissions    *prometheus.CounterVec // result, pool
	Checkouts     *prometheus.CounterVec // result
	Transitions   *prometheus.CounterVec // to
	Notifications *prometheus.CounterVec // kind, result
	NotifyQueue   prometheus.Gauge
	LowStock      *prometheus.GaugeVec // product_id
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	registry      *prometheus.Registry
}

// New registers every collector on a fresh registry so tests can build as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "admissions_total",
			Help: "Inventory admission attempts by result and pool.",
		}, []string{"result", "pool"}),
		Checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "requests_total",
			Help: "Checkout attempts by result.",
		}, []string{"result"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
			Help: "Successful order status transitions by target status.",
		}, []string{"to"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifications", Name: "dispatched_total",
			Help: "Notification delivery attempts by event kind and result.",
		}, []string{"kind", "result"}),
		NotifyQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "notifications", Name: "queue_depth",
			Help: "Notifications waiting for a worker.",
		}),
		LowStock: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "low_stock",
			Help: "1 when the product is at or below its low stock threshold.",
		}, []string{"product_id"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		registry: reg,
	}
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
