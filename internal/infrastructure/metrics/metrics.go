package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Order metrics
	OrdersPlaced         *prometheus.CounterVec
	OrderRejections      *prometheus.CounterVec
	OrderDuration        prometheus.Histogram
	OrderValue           prometheus.Histogram
	DispatchFailures     *prometheus.CounterVec
	Compensations        prometheus.Counter
	CompensationFailures prometheus.Counter
	RefillRequests       *prometheus.CounterVec

	// Ledger metrics
	LedgerOperations *prometheus.CounterVec
	LedgerRetries    prometheus.Counter
	LedgerDrift      prometheus.Gauge

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ReconcileRuns     prometheus.Counter
	ReconcileOrders   *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram

	// API metrics
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Redis metrics
	IdempotencyReplays prometheus.Counter
	LockContention     prometheus.Counter

	// Notification metrics
	Notifications *prometheus.CounterVec

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates all Prometheus metrics and registers them with reg.
// A nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		// Order metrics
		OrdersPlaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_orders_placed_total",
				Help: "Total orders admitted, by resulting status",
			},
			[]string{"status"},
		),
		OrderRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_order_rejections_total",
				Help: "Total order attempts rejected, by reason",
			},
			[]string{"reason"},
		),
		OrderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smmpanel_order_duration_seconds",
			Help:    "Duration of order placement including provider dispatch",
			Buckets: prometheus.DefBuckets,
		}),
		OrderValue: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smmpanel_order_value",
			Help:    "Price charged per admitted order",
			Buckets: []float64{0.1, 1, 5, 10, 50, 100, 500, 1000, 10000},
		}),
		DispatchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_dispatch_failures_total",
				Help: "Total provider dispatch failures, by error category",
			},
			[]string{"category"},
		),
		Compensations: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_compensations_total",
			Help: "Total reservations refunded after a dispatch failure",
		}),
		CompensationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_compensation_failures_total",
			Help: "Total compensations that could not be committed",
		}),
		RefillRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_refill_requests_total",
				Help: "Total refill requests, by outcome",
			},
			[]string{"outcome"},
		),

		// Ledger metrics
		LedgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_ledger_operations_total",
				Help: "Total ledger entries written, by operation",
			},
			[]string{"operation"},
		),
		LedgerRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_ledger_retries_total",
			Help: "Total ledger transactions retried after a serialization failure",
		}),
		LedgerDrift: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smmpanel_ledger_drift_accounts",
			Help: "Accounts whose cached balance disagreed with their entries at the last check",
		}),

		// Provider metrics
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_provider_requests_total",
				Help: "Total upstream provider calls, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smmpanel_provider_duration_seconds",
				Help:    "Upstream provider call duration",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),

		// Reconciliation metrics
		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_reconcile_runs_total",
			Help: "Total reconciliation batch runs",
		}),
		ReconcileOrders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_reconcile_orders_total",
				Help: "Total orders reconciled, by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smmpanel_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation batch",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smmpanel_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smmpanel_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		// Redis metrics
		IdempotencyReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_idempotency_replays_total",
			Help: "Total requests answered from the idempotency store",
		}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "smmpanel_order_lock_contention_total",
			Help: "Total reconcile or refill attempts skipped because the order was locked",
		}),

		// Notification metrics
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_notifications_total",
				Help: "Total notifications, by outcome",
			},
			[]string{"outcome"},
		),

		// Authentication metrics
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_auth_failures_total",
				Help: "Total authentication failures",
			},
			[]string{"reason"},
		),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smmpanel_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"scope"},
		),
	}
}
