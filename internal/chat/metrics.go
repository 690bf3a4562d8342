package chat

import "github.com/prometheus/client_golang/prometheus"

const (
	kindSessions = "sessions"
	kindMessages = "messages"

	resultOK    = "ok"
	resultError = "error"
)

// Metrics exposes persistence-cycle counters. A nil *Metrics records nothing.
type Metrics struct {
	cycles   *prometheus.CounterVec
	failures *prometheus.CounterVec
	entries  *prometheus.CounterVec
	pending  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "chat_cache",
			Name:      "persist_cycles_total",
			Help:      "Persistence cycles by result.",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "chat_cache",
			Name:      "persist_failures_total",
			Help:      "Failed upsert batches by entry kind.",
		}, []string{"kind"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "chat_cache",
			Name:      "persisted_entries_total",
			Help:      "Entries written to storage by kind.",
		}, []string{"kind"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "assistant",
			Subsystem: "chat_cache",
			Name:      "dirty_entries",
			Help:      "Dirty sessions and message lists left after the last cycle.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.cycles, m.failures, m.entries, m.pending)
	return m
}

func (m *Metrics) cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) cycleFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) persisted(kind string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) setPending(sessions, messageLists int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(kindSessions).Set(float64(sessions))
	m.pending.WithLabelValues(kindMessages).Set(float64(messageLists))
}
