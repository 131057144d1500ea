// Package metrics exposes the pool's Prometheus counters and gauges.
// Grounded on the teacher's internal/monitoring metrics registration
// idiom (one package-level Registry, constructor-style New wiring each
// collector), using prometheus/client_golang directly rather than the
// teacher's bespoke aggregation layer, which assumed a SQL-backed
// time-series rollup this pool's embedded store doesn't provide.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the pool registers, so components can
// take a single dependency instead of reaching for package-level
// globals.
type Registry struct {
	SharesAccepted   *prometheus.CounterVec
	SharesRejected   *prometheus.CounterVec
	BlocksFound      prometheus.Counter
	ActiveSessions   prometheus.Gauge
	CurrentDifficulty *prometheus.GaugeVec
	PayoutsSent      prometheus.Counter
	PayoutsFailed    prometheus.Counter
	TreasuryBalance  prometheus.Gauge
}

// New creates and registers every collector against reg.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		SharesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_shares_accepted_total",
			Help: "Accepted shares, labeled by worker address.",
		}, []string{"address"}),
		SharesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_shares_rejected_total",
			Help: "Rejected shares, labeled by reason.",
		}, []string{"reason"}),
		BlocksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_blocks_found_total",
			Help: "Blocks submitted successfully by this pool.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_active_sessions",
			Help: "Currently connected Stratum sessions.",
		}),
		CurrentDifficulty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_session_difficulty",
			Help: "Current vardiff difficulty, labeled by session id.",
		}, []string{"session"}),
		PayoutsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_payouts_sent_total",
			Help: "Successfully sent payout transactions.",
		}),
		PayoutsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_payouts_failed_total",
			Help: "Payout attempts that failed and were restored.",
		}),
		TreasuryBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_treasury_balance",
			Help: "Last observed funding-address balance, in sompi.",
		}),
	}

	reg.MustRegister(
		m.SharesAccepted,
		m.SharesRejected,
		m.BlocksFound,
		m.ActiveSessions,
		m.CurrentDifficulty,
		m.PayoutsSent,
		m.PayoutsFailed,
		m.TreasuryBalance,
	)
	return m
}
