package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
)

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error
}

// EntryRepository defines data access for ledger entries.
type EntryRepository interface {
	Create(ctx context.Context, tx Transaction, entry *domain.LedgerEntry) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]*domain.LedgerEntry, error)
}

// LedgerRepository defines data access for ledger-wide checks.
type LedgerRepository interface {
	FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error)
}

// CatalogReader reads offerings together with their provider in one query.
// A nil tx reads outside of any transaction.
type CatalogReader interface {
	Snapshot(ctx context.Context, tx Transaction, offeringID string) (*domain.OfferingSnapshot, error)
}

// OrderRepository defines data access for orders.
type OrderRepository interface {
	Create(ctx context.Context, tx Transaction, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	ExistsActive(ctx context.Context, tx Transaction, accountID, offeringID, link string) (bool, error)
	// MarkDispatched and CancelUndispatched only touch an order that is still
	// processing without an upstream id; otherwise they return domain.ErrOrderSettled.
	MarkDispatched(ctx context.Context, id, upstreamOrderID string, updatedAt time.Time) error
	CancelUndispatched(ctx context.Context, tx Transaction, id, description string, updatedAt time.Time) error
	// UpdateProgress overwrites the provider-reported fields and the refill status.
	// A status that collides with another active order for the same link yields
	// domain.ErrDuplicateActiveOrder.
	UpdateProgress(ctx context.Context, order *domain.Order) error
	SetRefill(ctx context.Context, id, refillID string, status domain.RefillStatus, updatedAt time.Time) error
	List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error)
	// ListOutstanding pages through orders that need reconciliation, ordered by id.
	ListOutstanding(ctx context.Context, afterID string, limit int) ([]*domain.Order, error)
	// ListAwaitingDispatch returns orders reserved for a provider before createdBefore
	// that never got an upstream id, oldest first.
	ListAwaitingDispatch(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error)
}

// ProviderGateway is the uniform client over upstream provider APIs.
// Every error it returns is a *domain.ProviderError.
type ProviderGateway interface {
	Submit(ctx context.Context, provider *domain.UpstreamProvider, req domain.SubmitRequest) (string, error)
	QueryStatus(ctx context.Context, provider *domain.UpstreamProvider, upstreamOrderID string) (*domain.ProviderOrderStatus, error)
	RequestRefill(ctx context.Context, provider *domain.UpstreamProvider, upstreamOrderID string) (string, error)
	QueryRefillStatus(ctx context.Context, provider *domain.UpstreamProvider, refillID string) (domain.RefillStatus, error)
}

// Notifier delivers best-effort messages. It must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// OrderLocker serializes work on a single order across processes.
type OrderLocker interface {
	// TryLock returns acquired=false without error when another holder owns the lock.
	TryLock(ctx context.Context, orderID string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Retrier re-runs an operation on transient storage conflicts.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
	// RetryUntil keeps re-running operation on any error for which permanent
	// returns false, until it succeeds or ctx ends.
	RetryUntil(ctx context.Context, operation func() error, permanent func(error) bool) error
}

// DispatchRecoverer settles orders whose dispatch outcome was never recorded.
type DispatchRecoverer interface {
	RecoverUndispatched(ctx context.Context, order *domain.Order) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Delete releases a key whose request did not complete.
	Delete(ctx context.Context, key string) error
}
