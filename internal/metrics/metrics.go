package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics groups the monitor's Prometheus collectors.
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	SamplesTotal    prometheus.Counter
	AlertsTotal     prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
	SinkErrorsTotal *prometheus.CounterVec
	LastBlock       prometheus.Gauge
	Price           prometheus.Gauge
	PctChange       prometheus.Gauge
	RPCLatency      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_samples_total",
			Help: "Total number of blocks sampled",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poolwatch_alerts_total",
			Help: "Total number of samples that satisfied the alert rule",
		}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_cycle_failures_total",
			Help: "Failed sampling cycles by kind",
		}, []string{"kind"}),
		SinkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poolwatch_sink_errors_total",
			Help: "Failed sample record writes by sink",
		}, []string{"sink"}),
		LastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_last_block",
			Help: "Last processed block height",
		}),
		Price: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_price",
			Help: "Last derived spot price in quote units per base unit",
		}),
		PctChange: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poolwatch_window_pct_change",
			Help: "Last windowed percentage price change",
		}),
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poolwatch_rpc_latency_seconds",
			Help:    "Latency of chain reads",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SamplesTotal,
			m.AlertsTotal,
			m.FailuresTotal,
			m.SinkErrorsTotal,
			m.LastBlock,
			m.Price,
			m.PctChange,
			m.RPCLatency,
		)
	}
	return m
}

// ObserveSample records a processed block.
func (m *Metrics) ObserveSample(block uint64, price decimal.Decimal, pct decimal.NullDecimal, alert bool) {
	if m == nil {
		return
	}
	m.SamplesTotal.Inc()
	m.LastBlock.Set(float64(block))
	m.Price.Set(price.InexactFloat64())
	if pct.Valid {
		m.PctChange.Set(pct.Decimal.InexactFloat64())
	}
	if alert {
		m.AlertsTotal.Inc()
	}
}

// IncFailure counts a failed cycle.
func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// IncSinkError counts a failed sink write.
func (m *Metrics) IncSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveRPC records the latency of one chain read.
func (m *Metrics) ObserveRPC(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCLatency.WithLabelValues(op).Observe(d.Seconds())
}
