// Package metrics exposes matcher counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dexmatch"

type Metrics struct {
	ordersAccepted *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	executions     *prometheus.CounterVec
	events         *prometheus.CounterVec
	ledgerFaults   prometheus.Counter
	settlements    *prometheus.CounterVec
	lastOffset     prometheus.Gauge
	snapshotOffset prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_accepted_total",
			Help: "Orders accepted into a book.",
		}, []string{"pair"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_rejected_total",
			Help: "Orders rejected by validation.",
		}, []string{"pair", "reason"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Order executions.",
		}, []string{"pair"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_committed_total",
			Help: "Lifecycle events written to the event log.",
		}, []string{"kind"}),
		ledgerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_faults_total",
			Help: "Reserved balance inconsistencies.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_total",
			Help: "Settlement publish attempts by outcome.",
		}, []string{"outcome"}),
		lastOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_offset",
			Help: "Offset of the last committed event.",
		}),
		snapshotOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "snapshot_offset",
			Help: "Offset of the last written snapshot.",
		}),
	}
	reg.MustRegister(
		m.ordersAccepted, m.ordersRejected, m.executions, m.events,
		m.ledgerFaults, m.settlements, m.lastOffset, m.snapshotOffset,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderAccepted(pair string) {
	if m != nil {
		m.ordersAccepted.WithLabelValues(pair).Inc()
	}
}

func (m *Metrics) OrderRejected(pair, reason string) {
	if m != nil {
		m.ordersRejected.WithLabelValues(pair, reason).Inc()
	}
}

func (m *Metrics) Executed(pair string) {
	if m != nil {
		m.executions.WithLabelValues(pair).Inc()
	}
}

func (m *Metrics) Committed(kind string, offset uint64) {
	if m != nil {
		m.events.WithLabelValues(kind).Inc()
		m.lastOffset.Set(float64(offset))
	}
}

func (m *Metrics) LedgerFault() {
	if m != nil {
		m.ledgerFaults.Inc()
	}
}

func (m *Metrics) Settlement(outcome string) {
	if m != nil {
		m.settlements.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Snapshot(offset uint64) {
	if m != nil {
		m.snapshotOffset.Set(float64(offset))
	}
}
