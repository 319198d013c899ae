package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"custody/pkg/units"
)

// Metrics holds Prometheus collectors for vault operations.
type Metrics struct {
	Deposits            prometheus.Counter
	WithdrawalsExecuted prometheus.Counter
	WithdrawalsRejected *prometheus.CounterVec
	WithdrawDurationMs  prometheus.Histogram
	BalanceEther        prometheus.Gauge
}

// New registers the vault collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deposits: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_deposits_total",
			Help: "Total number of deposits credited to the vault",
		}),
		WithdrawalsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_withdrawals_executed_total",
			Help: "Total number of authorizations honored",
		}),
		WithdrawalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdrawals_rejected_total",
			Help: "Total number of rejected withdrawals by reason",
		}, []string{"reason"}),
		WithdrawDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_withdraw_duration_ms",
			Help:    "Duration of withdraw operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BalanceEther: factory.NewGauge(prometheus.GaugeOpts{
			Name: "custody_vault_balance_ether",
			Help: "Vault balance in whole units, approximate",
		}),
	}
}

func (m *Metrics) IncrementDeposits() {
	m.Deposits.Inc()
}

func (m *Metrics) IncrementWithdrawalsExecuted() {
	m.WithdrawalsExecuted.Inc()
}

func (m *Metrics) IncrementWithdrawalsRejected(reason string) {
	m.WithdrawalsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveWithdrawDuration(durationMs float64) {
	m.WithdrawDurationMs.Observe(durationMs)
}

// SetBalance records base-unit balance as a float of whole units.
func (m *Metrics) SetBalance(balance *big.Int) {
	m.BalanceEther.Set(units.ToFloat(balance))
}
