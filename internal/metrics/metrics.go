package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inferpay"

// Request outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	streamChunks    prometheus.Counter
	malformed       prometheus.Counter
	streamDuration  prometheus.Histogram
	discovered      prometheus.Gauge
	ledgerMutations *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inference requests by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Ledger to sub-account transfers by kind (seed or topup).",
		}, []string{"kind"}),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Text deltas delivered from provider streams.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_records_total",
			Help:      "Stream records skipped because they were not valid JSON.",
		}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Time from opening a provider stream until it ends.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discovered_services",
			Help:      "Valid providers found by the last discovery.",
		}),
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Ledger mutations by operation and result.",
		}, []string{"op", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.transfers, m.streamChunks, m.malformed,
		m.streamDuration, m.discovered, m.ledgerMutations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request counts a finished orchestration attempt.
func (m *Metrics) Request(outcome, reason string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome, reason).Inc()
}

// Transfer counts a sub-account funding transfer.
func (m *Metrics) Transfer(kind string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(kind).Inc()
}

// StreamChunk counts one delivered delta.
func (m *Metrics) StreamChunk() {
	if m == nil {
		return
	}
	m.streamChunks.Inc()
}

// MalformedRecords adds n skipped stream records.
func (m *Metrics) MalformedRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformed.Add(float64(n))
}

// StreamDuration observes how long a stream was open.
func (m *Metrics) StreamDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.streamDuration.Observe(d.Seconds())
}

// Discovered sets the size of the last discovered service set.
func (m *Metrics) Discovered(n int) {
	if m == nil {
		return
	}
	m.discovered.Set(float64(n))
}

// LedgerMutation counts a ledger create, delete, deposit or withdraw.
func (m *Metrics) LedgerMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerMutations.WithLabelValues(op, result).Inc()
}
