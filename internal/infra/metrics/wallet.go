package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		walletsOpenedTotal,
		walletsClosedTotal,
	)
}

var (
	walletsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_wallets_opened_total",
			Help: "Total number of wallets opened.",
		},
	)

	walletsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_wallets_closed_total",
			Help: "Total number of wallets closed by reason.",
		},
		[]string{"reason"},
	)
)

// IncWalletOpened records a wallet open.
func IncWalletOpened() {
	walletsOpenedTotal.Inc()
}

// IncWalletClosed records a wallet close with the given reason.
func IncWalletClosed(reason string) {
	walletsClosedTotal.WithLabelValues(reason).Inc()
}
