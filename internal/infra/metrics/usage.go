package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reservesTotal,
		commitsTotal,
		rollbacksTotal,
	)
}

var (
	reservesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_reserves_total",
			Help: "Total number of Reserve calls by outcome.",
		},
		[]string{"outcome"}, // 'allowed', 'rejected'
	)

	commitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_commits_total",
			Help: "Total number of Commit calls that found a reservation.",
		},
	)

	rollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_rollbacks_total",
			Help: "Total number of Rollback calls that found a reservation.",
		},
	)
)

// IncReserve records a Reserve outcome ('allowed' or 'rejected').
func IncReserve(outcome string) {
	reservesTotal.WithLabelValues(outcome).Inc()
}

// IncCommit records a successful Commit.
func IncCommit() {
	commitsTotal.Inc()
}

// IncRollback records a successful Rollback.
func IncRollback() {
	rollbacksTotal.Inc()
}
