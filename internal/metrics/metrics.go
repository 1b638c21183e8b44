// Package metrics exposes the counters and histograms the checkout path
// reports. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultCommitted = "committed"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

type Metrics struct {
	checkouts        *prometheus.CounterVec
	exchanges        *prometheus.CounterVec
	txConflicts      prometheus.Counter
	queueDepth       prometheus.Gauge
	checkoutDuration prometheus.Histogram
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_checkouts_total",
			Help: "Checkout attempts by result.",
		}, []string{"result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_exchanges_total",
			Help: "Exchange attempts by result.",
		}, []string{"result"}),
		txConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_tx_conflicts_total",
			Help: "Store transactions retried after a concurrent modification.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pos_offline_queue_depth",
			Help: "Operations waiting in the offline queue.",
		}),
		checkoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_checkout_duration_seconds",
			Help:    "Checkout latency including retries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	registerer.MustRegister(m.checkouts, m.exchanges, m.txConflicts, m.queueDepth, m.checkoutDuration)
	return m
}

func (m *Metrics) Checkout(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Exchange(result string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) TxConflict() {
	if m == nil {
		return
	}
	m.txConflicts.Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
