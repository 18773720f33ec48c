package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lunorise"

var (
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"route"},
	)

	CBRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"name"},
	)

	// result: ok / bad_signature / parse_error / not_found / failed_trade / already_settled / error ...
	WebhookTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "webhook_total",
			Help:      "Gateway webhooks received, by gateway and result.",
		},
		[]string{"gateway", "result"},
	)

	WebhookIPRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "webhook_ip_not_allowed_total",
			Help:      "Webhooks whose source ip is not in the gateway allowlist.",
		},
		[]string{"gateway", "enforced"},
	)

	DepositsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "deposits_settled_total",
			Help:      "Deposits moved out of pending, by method and final status.",
		},
		[]string{"method", "status"},
	)

	WalletCreditedCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "wallet_credited_cents_total",
			Help:      "Cents credited to wallets, by transaction type.",
		},
		[]string{"type"},
	)

	ReferralLevelTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "referral_level_total",
			Help:      "Referral rewards attempted per level, by result.",
		},
		[]string{"level", "result"},
	)

	IncomeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "income_events_total",
			Help:      "Income events handled by the processor, by result.",
		},
		[]string{"result"},
	)

	IncomeRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "settlement",
		Name:      "income_run_duration_seconds",
		Help:      "Income processor run latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
