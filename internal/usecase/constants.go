package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultProviderTimeout bounds a single upstream call made while placing an order.
	DefaultProviderTimeout = 30 * time.Second

	// DefaultReconcileQueryTimeout bounds a single status query during reconciliation.
	DefaultReconcileQueryTimeout = 15 * time.Second

	// DefaultReconcileConcurrency is how many orders are reconciled in parallel.
	DefaultReconcileConcurrency = 8

	// DefaultReconcileBatchSize is the page size used when selecting outstanding orders.
	DefaultReconcileBatchSize = 200

	// DefaultOrderLockTTL must outlive a status query plus the write that follows it.
	DefaultOrderLockTTL = time.Minute

	// DefaultCompensationTimeout bounds the retries of a refund after a failed dispatch.
	DefaultCompensationTimeout = 2 * time.Minute

	// DefaultDispatchGracePeriod is how old an undispatched order must be before the
	// recovery sweep refunds it. It must exceed the provider timeout plus the
	// compensation timeout so a live dispatch is never raced.
	DefaultDispatchGracePeriod = 10 * time.Minute

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour
)
