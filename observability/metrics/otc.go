package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DeskMetrics tracks settlement activity and escrow health for the desk.
type DeskMetrics struct {
	offersCreated  *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	claims         prometheus.Counter
	refunds        prometheus.Counter
	escrowBalance  *prometheus.GaugeVec
	reconAnomalies *prometheus.CounterVec
}

var (
	deskOnce     sync.Once
	deskRegistry *DeskMetrics
)

func Desk() *DeskMetrics {
	deskOnce.Do(func() {
		deskRegistry = &DeskMetrics{
			offersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "otc_offers_created_total",
				Help: "Count of offers created segmented by origin.",
			}, []string{"origin"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "otc_settlements_total",
				Help: "Count of paid offers segmented by payment currency.",
			}, []string{"currency"}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "otc_claims_total",
				Help: "Count of completed token releases.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "otc_emergency_refunds_total",
				Help: "Count of emergency refunds executed.",
			}),
			escrowBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "otc_escrow_balance",
				Help: "Treasury escrow balance per token in base units.",
			}, []string{"token"}),
			reconAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "otc_recon_anomalies_total",
				Help: "Count of reconciliation anomalies by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			deskRegistry.offersCreated,
			deskRegistry.settlements,
			deskRegistry.claims,
			deskRegistry.refunds,
			deskRegistry.escrowBalance,
			deskRegistry.reconAnomalies,
		)
	})
	return deskRegistry
}

func (m *DeskMetrics) RecordOfferCreated(origin string) {
	if m == nil {
		return
	}
	m.offersCreated.WithLabelValues(origin).Inc()
}

func (m *DeskMetrics) RecordSettlement(currency string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(currency).Inc()
}

func (m *DeskMetrics) RecordClaim() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

func (m *DeskMetrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// SetEscrowBalance publishes the current treasury balance for a token. Values
// above float64 precision lose accuracy but remain monotonic enough for
// alerting.
func (m *DeskMetrics) SetEscrowBalance(token string, balance float64) {
	if m == nil {
		return
	}
	m.escrowBalance.WithLabelValues(token).Set(balance)
}

func (m *DeskMetrics) RecordReconAnomaly(kind string) {
	if m == nil {
		return
	}
	m.reconAnomalies.WithLabelValues(kind).Inc()
}
