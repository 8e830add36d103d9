package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homepro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CategoryMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_category_mutations_total",
			Help: "Category set mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	VersionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_version_conflicts_total",
			Help: "Optimistic concurrency conflicts by operation and whether they were retried away",
		},
		[]string{"operation", "outcome"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_payments_total",
			Help: "Payment attempts by provider, kind and result",
		},
		[]string{"provider", "kind", "result"},
	)

	PaymentBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homepro_payment_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	SubscriptionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_subscription_transitions_total",
			Help: "Subscription state transitions",
		},
		[]string{"from", "to"},
	)

	BillingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_billing_accounts_processed_total",
			Help: "Accounts processed by the billing cycle",
		},
		[]string{"result"},
	)

	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_cache_events_total",
			Help: "Snapshot cache lookups and publications",
		},
		[]string{"layer", "event"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homepro_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homepro_email_queue_length",
			Help: "Current length of email queue",
		},
	)

	WalletTopUpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homepro_wallet_topups_total",
			Help: "Total number of wallet top-ups",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordCategoryMutation(operation, result string) {
	CategoryMutationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordVersionConflict(operation, outcome string) {
	VersionConflictsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordPayment(provider, kind, result string) {
	PaymentsTotal.WithLabelValues(provider, kind, result).Inc()
}

func SetBreakerState(provider string, state float64) {
	PaymentBreakerState.WithLabelValues(provider).Set(state)
}

func RecordTransition(from, to string) {
	if from == to {
		return
	}
	SubscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordBillingResult(result string) {
	BillingRunsTotal.WithLabelValues(result).Inc()
}

func RecordCacheEvent(layer, event string) {
	CacheEventsTotal.WithLabelValues(layer, event).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}

func RecordWalletTopUp() {
	WalletTopUpsTotal.Inc()
}
