package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	GroupsApplied  *prometheus.CounterVec
	EscrowOps      *prometheus.CounterVec
	BlockHeight    prometheus.Gauge
	BlockLatency   prometheus.Histogram
	ListingsActive prometheus.Gauge
	MempoolSize    prometheus.Gauge
	Submissions    *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		GroupsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrowd_groups_applied_total",
				Help: "Transaction groups applied, by outcome.",
			},
			[]string{"outcome"},
		),
		EscrowOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrowd_escrow_ops_total",
				Help: "Escrow method calls, by method and error kind (none on success).",
			},
			[]string{"method", "kind"},
		),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrowd_block_height",
			Help: "Height of the last committed block.",
		}),
		BlockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "escrowd_finalize_block_seconds",
			Help:    "Time spent applying one block.",
			Buckets: prometheus.DefBuckets,
		}),
		ListingsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrowd_listings_active",
			Help: "Listings currently stored.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrowd_mempool_groups",
			Help: "Groups waiting for a block.",
		}),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrowd_api_submissions_total",
				Help: "Groups submitted over the API, by result.",
			},
			[]string{"result"},
		),
	}
	registry.MustRegister(m.GroupsApplied, m.EscrowOps, m.BlockHeight, m.BlockLatency,
		m.ListingsActive, m.MempoolSize, m.Submissions)
	return m
}

func (m *Metrics) ObserveGroup(outcome string) {
	if m == nil {
		return
	}
	m.GroupsApplied.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEscrowOp(method, kind string) {
	if m == nil {
		return
	}
	m.EscrowOps.WithLabelValues(method, kind).Inc()
}

func (m *Metrics) ObserveBlock(height uint64, took time.Duration, listings, pending int) {
	if m == nil {
		return
	}
	m.BlockHeight.Set(float64(height))
	m.BlockLatency.Observe(took.Seconds())
	m.ListingsActive.Set(float64(listings))
	m.MempoolSize.Set(float64(pending))
}

func (m *Metrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}
