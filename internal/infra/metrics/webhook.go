package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDedupTotal,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_webhook_events_processed_total",
			Help: "Total number of billing webhook events processed.",
		},
	)

	webhookDedupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_webhook_events_deduped_total",
			Help: "Total number of billing webhook events dropped as duplicates.",
		},
	)
)

// IncWebhookProcessed records a billing event call that returned without
// error; duplicates dropped by dedup are counted here as well.
func IncWebhookProcessed() {
	webhookEventsTotal.Inc()
}

// IncWebhookDedup records a duplicate webhook event dropped.
func IncWebhookDedup() {
	webhookDedupTotal.Inc()
}
