package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wormhole/internal/domain"
	"wormhole/internal/mailbox"
)

// Metrics are the mailbox server's prometheus collectors. They live on
// their own registry so tests can build as many servers as they like.
type Metrics struct {
	registry *prometheus.Registry

	connections       prometheus.Counter
	activeConnections prometheus.Gauge
	messages          *prometheus.CounterVec
	relayed           prometheus.Counter
	evicted           prometheus.Counter
	protocolErrors    prometheus.Counter
	allocated         prometheus.Counter
	results           *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wormhole_mailbox_connections_total",
			Help: "Number of accepted websocket connections",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wormhole_mailbox_active_connections",
			Help: "Number of websocket connections currently open",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wormhole_mailbox_messages_total",
			Help: "Number of client messages received, by type",
		}, []string{"type"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wormhole_mailbox_relayed_messages_total",
			Help: "Number of mailbox messages added and relayed",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wormhole_mailbox_evicted_connections_total",
			Help: "Number of connections dropped because their send queue overflowed",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wormhole_mailbox_protocol_errors_total",
			Help: "Number of error replies sent to clients",
		}),
		allocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wormhole_mailbox_nameplates_allocated_total",
			Help: "Number of nameplates handed out by allocate",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wormhole_mailbox_results_total",
			Help: "Number of retired mailboxes, by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.activeConnections,
		m.messages,
		m.relayed,
		m.evicted,
		m.protocolErrors,
		m.allocated,
		m.results,
	)
	return m
}

// Track exports the live nameplate and mailbox counts of reg. Call it once.
func (m *Metrics) Track(reg *mailbox.Registry) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wormhole_mailbox_nameplates",
			Help: "Number of nameplates currently claimed",
		}, func() float64 {
			n, _ := reg.Stats()
			return float64(n)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wormhole_mailbox_mailboxes",
			Help: "Number of mailboxes currently alive",
		}, func() float64 {
			_, n := reg.Stats()
			return float64(n)
		}),
	)
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// CountingRecorder counts every usage record by result before passing it on
// to next. next may be nil.
func (m *Metrics) CountingRecorder(next domain.UsageRecorder) domain.UsageRecorder {
	return &countingRecorder{m: m, next: next}
}

type countingRecorder struct {
	m    *Metrics
	next domain.UsageRecorder
}

func (c *countingRecorder) RecordUsage(rec domain.UsageRecord) error {
	c.m.results.WithLabelValues(string(rec.Result)).Inc()
	if c.next == nil {
		return nil
	}
	return c.next.RecordUsage(rec)
}
