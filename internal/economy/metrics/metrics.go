package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the economy module: operation outcomes,
// coins moved per entry kind, unit-of-work latency and retries.
type Metrics struct {
	Operations        *prometheus.CounterVec
	CoinsMoved        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TxRetries         prometheus.Counter
	TxConflicts       prometheus.Counter
	OpenSessions      prometheus.Gauge
	SignatureRejected prometheus.Counter
	OutboxRelayed     prometheus.Counter
	OutboxFailures    prometheus.Counter
}

// New registers the economy metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coinledger_operations_total",
			Help: "Economy operations by name and result code",
		}, []string{"op", "result"}),
		CoinsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coinledger_coins_moved_total",
			Help: "Absolute coins written to the ledger by entry kind",
		}, []string{"kind"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinledger_operation_duration_seconds",
			Help:    "Duration of economy operations including the unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		TxRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "coinledger_tx_retries_total",
			Help: "Units of work re-run after a serialization failure or deadlock",
		}),
		TxConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "coinledger_tx_conflicts_total",
			Help: "Units of work abandoned after exhausting retries",
		}),
		OpenSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "coinledger_open_sessions",
			Help: "Sessions currently holding a responder",
		}),
		SignatureRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "coinledger_payment_signature_rejected_total",
			Help: "Payment callbacks rejected for a bad signature",
		}),
		OutboxRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "coinledger_outbox_relayed_total",
			Help: "Outbox entries delivered to Kafka",
		}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "coinledger_outbox_relay_failures_total",
			Help: "Failed outbox drain attempts",
		}),
	}
}

// ObserveOperation records outcome and latency. result is "ok" or an error code.
func (m *Metrics) ObserveOperation(op, result string, start time.Time) {
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddCoins records coins moved for an entry kind; amount may be negative.
func (m *Metrics) AddCoins(kind string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	m.CoinsMoved.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) IncrementRetry() {
	m.TxRetries.Inc()
}

func (m *Metrics) IncrementConflict() {
	m.TxConflicts.Inc()
}

func (m *Metrics) SetOpenSessions(n int) {
	m.OpenSessions.Set(float64(n))
}

func (m *Metrics) IncrementSignatureRejected() {
	m.SignatureRejected.Inc()
}

// ObserveRelay matches the outbox relay observer signature.
func (m *Metrics) ObserveRelay(n int, err error) {
	if err != nil {
		m.OutboxFailures.Inc()
		return
	}
	m.OutboxRelayed.Add(float64(n))
}
