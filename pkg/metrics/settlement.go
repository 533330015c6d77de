package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records counters for the escrow settlement chain.
type SettlementMetrics struct {
	chainDuration *prometheus.HistogramVec
	settled       prometheus.Counter
	refunded      prometheus.Counter
	provisions    *prometheus.CounterVec
	feesAccrued   prometheus.Counter
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	chainDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_chain_duration_seconds",
		Help:    "Duration from entry call to final settlement callback.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sales_settled_total",
		Help: "Successful sale settlements paid out to sellers.",
	})
	refunded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sales_refunded_total",
		Help: "Failed sales refunded to buyers.",
	})
	provisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_provisions_total",
		Help: "Vault provisioning attempts by outcome.",
	}, []string{"result"})
	feesAccrued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fees_accrued_units_total",
		Help: "Marketplace fees retained, in smallest currency units.",
	})
	reg.MustRegister(chainDuration, settled, refunded, provisions, feesAccrued)
	return &SettlementMetrics{
		chainDuration: chainDuration,
		settled:       settled,
		refunded:      refunded,
		provisions:    provisions,
		feesAccrued:   feesAccrued,
	}
}

// ObserveChainDuration records how long the named operation's chain took.
func (m *SettlementMetrics) ObserveChainDuration(operation string, duration time.Duration) {
	if m == nil || m.chainDuration == nil {
		return
	}
	m.chainDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncSettled increments the successful settlement counter.
func (m *SettlementMetrics) IncSettled() {
	if m == nil || m.settled == nil {
		return
	}
	m.settled.Inc()
}

// IncRefunded increments the refund counter.
func (m *SettlementMetrics) IncRefunded() {
	if m == nil || m.refunded == nil {
		return
	}
	m.refunded.Inc()
}

// IncProvision increments the provisioning counter for the given result.
func (m *SettlementMetrics) IncProvision(result string) {
	if m == nil || m.provisions == nil {
		return
	}
	m.provisions.WithLabelValues(normalizeLabel(result)).Inc()
}

// AddFees accrues retained fee units.
func (m *SettlementMetrics) AddFees(units float64) {
	if m == nil || m.feesAccrued == nil || units <= 0 {
		return
	}
	m.feesAccrued.Add(units)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
