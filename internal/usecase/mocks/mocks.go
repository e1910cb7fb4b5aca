package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// Store is an in-memory database shared by the repository mocks below. Writes made
// through a MockTransaction are undone on rollback; only one transaction is open
// at a time, which stands in for the account row lock.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	accounts  map[string]*domain.Account
	entries   []*domain.LedgerEntry
	orders    map[string]*domain.Order
	offerings map[string]*domain.ServiceOffering
	providers map[string]*domain.UpstreamProvider

	Accounts  *MockAccountRepository
	Entries   *MockEntryRepository
	Ledger    *MockLedgerRepository
	Orders    *MockOrderRepository
	Catalog   *MockCatalogReader
	TxManager *MockTransactionManager
}

// NewStore creates an empty Store with its repositories wired.
func NewStore() *Store {
	s := &Store{
		accounts:  make(map[string]*domain.Account),
		orders:    make(map[string]*domain.Order),
		offerings: make(map[string]*domain.ServiceOffering),
		providers: make(map[string]*domain.UpstreamProvider),
	}

	s.Accounts = &MockAccountRepository{store: s}
	s.Entries = &MockEntryRepository{store: s}
	s.Ledger = &MockLedgerRepository{store: s}
	s.Orders = &MockOrderRepository{store: s}
	s.Catalog = &MockCatalogReader{store: s}
	s.TxManager = &MockTransactionManager{store: s}

	return s
}

// AddAccount seeds an active account.
func (s *Store) AddAccount(id string, balance decimal.Decimal) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	acc := &domain.Account{ID: id, Status: domain.AccountStatusActive, Balance: balance, CreatedAt: now, UpdatedAt: now}
	s.accounts[id] = acc

	cp := *acc

	return &cp
}

// SetAccountStatus changes an account's status.
func (s *Store) SetAccountStatus(id string, status domain.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[id]; ok {
		acc.Status = status
	}
}

// AddProvider seeds an upstream provider.
func (s *Store) AddProvider(p domain.UpstreamProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.providers[p.ID] = &p
}

// AddOffering seeds or replaces an offering.
func (s *Store) AddOffering(o domain.ServiceOffering) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offerings[o.ID] = &o
}

// AddOrder seeds an order as if it had been admitted earlier.
func (s *Store) AddOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = &o
}

// Account returns a copy of the stored account.
func (s *Store) Account(id string) domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return *s.accounts[id]
}

// Order returns a copy of the stored order and whether it exists.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, false
	}

	return *o, true
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.orders)
}

// AllEntries returns every ledger entry in insertion order.
func (s *Store) AllEntries() []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}

	return out
}

// EntrySum returns the sum of entry amounts for an account.
func (s *Store) EntrySum(accountID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range s.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Amount)
		}
	}

	return sum
}

func recordUndo(tx usecase.Transaction, undo func()) {
	if mt, ok := tx.(*MockTransaction); ok && mt != nil {
		mt.undo = append(mt.undo, undo)
	}
}

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	store *Store

	BeginFunc func(ctx context.Context) (usecase.Transaction, error)
}

// NewMockTransactionManager creates a manager over a fresh Store.
func NewMockTransactionManager() *MockTransactionManager {
	return NewStore().TxManager
}

func (m *MockTransactionManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}

	m.store.txMu.Lock()

	return &MockTransaction{store: m.store}, nil
}

// MockTransaction is a mock implementation of Transaction.
type MockTransaction struct {
	store *Store
	undo  []func()
	done  bool

	CommitFunc func(ctx context.Context) error
}

func (m *MockTransaction) Commit(ctx context.Context) error {
	if m.done {
		return errors.New("transaction already closed")
	}

	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx); err != nil {
			return err
		}
	}

	m.finish()

	return nil
}

func (m *MockTransaction) Rollback(ctx context.Context) error {
	if m.done {
		return nil
	}

	if m.store == nil {
		m.done = true
		return nil
	}

	m.store.mu.Lock()
	for i := len(m.undo) - 1; i >= 0; i-- {
		m.undo[i]()
	}
	m.store.mu.Unlock()

	m.finish()

	return nil
}

func (m *MockTransaction) finish() {
	m.done = true
	m.undo = nil

	if m.store != nil {
		m.store.txMu.Unlock()
	}
}

// MockAccountRepository is a mock implementation of AccountRepository.
type MockAccountRepository struct {
	store *Store

	GetByIDForUpdateFunc func(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error)
	UpdateBalanceFunc    func(ctx context.Context, tx usecase.Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	acc, ok := m.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	cp := *acc

	return &cp, nil
}

func (m *MockAccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	if m.GetByIDForUpdateFunc != nil {
		return m.GetByIDForUpdateFunc(ctx, tx, id)
	}

	return m.GetByID(ctx, id)
}

func (m *MockAccountRepository) UpdateBalance(ctx context.Context, tx usecase.Transaction, id string, balance decimal.Decimal, updatedAt time.Time) error {
	if m.UpdateBalanceFunc != nil {
		return m.UpdateBalanceFunc(ctx, tx, id, balance, updatedAt)
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	acc, ok := m.store.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}

	prev := *acc
	recordUndo(tx, func() { *m.store.accounts[id] = prev })

	acc.Balance = balance
	acc.Version++
	acc.UpdatedAt = updatedAt

	return nil
}

// MockEntryRepository is a mock implementation of EntryRepository.
type MockEntryRepository struct {
	store *Store

	CreateFunc func(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error
}

func (m *MockEntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, tx, entry); err != nil {
			return err
		}
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	cp := *entry
	m.store.entries = append(m.store.entries, &cp)
	recordUndo(tx, func() {
		for i, e := range m.store.entries {
			if e.ID == cp.ID {
				m.store.entries = append(m.store.entries[:i], m.store.entries[i+1:]...)
				return
			}
		}
	})

	return nil
}

func (m *MockEntryRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for i := len(m.store.entries) - 1; i >= 0; i-- {
		if e := m.store.entries[i]; e.AccountID == accountID {
			cp := *e
			entries = append(entries, &cp)
		}
	}

	return page(entries, limit, offset), nil
}

func (m *MockEntryRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]*domain.LedgerEntry, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	var entries []*domain.LedgerEntry
	for _, e := range m.store.entries {
		if e.CorrelationID == correlationID {
			cp := *e
			entries = append(entries, &cp)
		}
	}

	return entries, nil
}

// MockLedgerRepository is a mock implementation of LedgerRepository.
type MockLedgerRepository struct {
	store *Store

	FindBalanceDriftFunc func(ctx context.Context) ([]domain.BalanceDrift, error)
}

func (m *MockLedgerRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	if m.FindBalanceDriftFunc != nil {
		return m.FindBalanceDriftFunc(ctx)
	}

	ids := make([]string, 0)
	m.store.mu.RLock()
	for id := range m.store.accounts {
		ids = append(ids, id)
	}
	m.store.mu.RUnlock()
	sort.Strings(ids)

	var drifts []domain.BalanceDrift
	for _, id := range ids {
		acc := m.store.Account(id)
		sum := m.store.EntrySum(id)
		if !acc.Balance.Equal(sum) {
			drifts = append(drifts, domain.BalanceDrift{AccountID: id, CachedBalance: acc.Balance, EntrySum: sum})
		}
	}

	return drifts, nil
}

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	store *Store

	CreateFunc             func(ctx context.Context, tx usecase.Transaction, order *domain.Order) error
	MarkDispatchedFunc     func(ctx context.Context, id, upstreamOrderID string, updatedAt time.Time) error
	CancelUndispatchedFunc func(ctx context.Context, tx usecase.Transaction, id, description string, updatedAt time.Time) error
	UpdateProgressFunc     func(ctx context.Context, order *domain.Order) error
}

func (m *MockOrderRepository) Create(ctx context.Context, tx usecase.Transaction, order *domain.Order) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, tx, order); err != nil {
			return err
		}
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if _, ok := m.store.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}

	cp := *order
	m.store.orders[order.ID] = &cp
	recordUndo(tx, func() { delete(m.store.orders, cp.ID) })

	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := m.store.Order(id)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}

	return &o, nil
}

func (m *MockOrderRepository) ExistsActive(ctx context.Context, tx usecase.Transaction, accountID, offeringID, link string) (bool, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	for _, o := range m.store.orders {
		if o.AccountID != accountID || o.OfferingID != offeringID || o.Link != link {
			continue
		}

		for _, s := range domain.ActiveOrderStatuses {
			if o.Status == s {
				return true, nil
			}
		}
	}

	return false, nil
}

func (m *MockOrderRepository) MarkDispatched(ctx context.Context, id, upstreamOrderID string, updatedAt time.Time) error {
	if m.MarkDispatchedFunc != nil {
		return m.MarkDispatchedFunc(ctx, id, upstreamOrderID, updatedAt)
	}

	return m.mutateUndispatched(nil, id, func(o *domain.Order) {
		o.Status = domain.OrderStatusInProgress
		o.UpstreamOrderID = &upstreamOrderID
		o.UpdatedAt = updatedAt
	})
}

func (m *MockOrderRepository) CancelUndispatched(ctx context.Context, tx usecase.Transaction, id, description string, updatedAt time.Time) error {
	if tx == nil {
		return errors.New("cancel undispatched requires a transaction")
	}

	if m.CancelUndispatchedFunc != nil {
		if err := m.CancelUndispatchedFunc(ctx, tx, id, description, updatedAt); err != nil {
			return err
		}
	}

	return m.mutateUndispatched(tx, id, func(o *domain.Order) {
		o.Status = domain.OrderStatusCancelled
		o.Description = description
		o.UpdatedAt = updatedAt
	})
}

// mutateUndispatched applies fn only to an order still processing without an upstream id.
func (m *MockOrderRepository) mutateUndispatched(tx usecase.Transaction, id string, fn func(o *domain.Order)) error {
	m.store.mu.RLock()
	o, ok := m.store.orders[id]
	settled := !ok || o.Status != domain.OrderStatusProcessing || o.UpstreamOrderID != nil
	m.store.mu.RUnlock()

	if settled {
		return domain.ErrOrderSettled
	}

	return m.mutate(tx, id, fn)
}

func (m *MockOrderRepository) UpdateProgress(ctx context.Context, order *domain.Order) error {
	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, order)
	}

	if order.Status.IsActive() && m.activeSibling(order) {
		return domain.ErrDuplicateActiveOrder
	}

	return m.mutate(nil, order.ID, func(o *domain.Order) {
		o.Status = order.Status
		o.StartCount = order.StartCount
		o.Remains = order.Remains
		o.Description = order.Description
		o.ProviderCost = order.ProviderCost
		o.RefillStatus = order.RefillStatus
		o.UpdatedAt = order.UpdatedAt
	})
}

// activeSibling reports whether another active order shares order's account, offering and link.
func (m *MockOrderRepository) activeSibling(order *domain.Order) bool {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	current, ok := m.store.orders[order.ID]
	if !ok {
		return false
	}

	for _, o := range m.store.orders {
		if o.ID != current.ID && o.AccountID == current.AccountID && o.OfferingID == current.OfferingID &&
			o.Link == current.Link && o.Status.IsActive() {
			return true
		}
	}

	return false
}

func (m *MockOrderRepository) SetRefill(ctx context.Context, id, refillID string, status domain.RefillStatus, updatedAt time.Time) error {
	return m.mutate(nil, id, func(o *domain.Order) {
		o.RefillID = &refillID
		o.RefillStatus = &status
		o.UpdatedAt = updatedAt
	})
}

func (m *MockOrderRepository) mutate(tx usecase.Transaction, id string, fn func(o *domain.Order)) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	o, ok := m.store.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	prev := *o
	recordUndo(tx, func() { *m.store.orders[id] = prev })
	fn(o)

	return nil
}

func (m *MockOrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range m.store.orders {
		if filter.AccountID != "" && o.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		cp := *o
		orders = append(orders, &cp)
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })

	return page(orders, filter.Limit, filter.Offset), nil
}

func (m *MockOrderRepository) ListOutstanding(ctx context.Context, afterID string, limit int) ([]*domain.Order, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range m.store.orders {
		if o.ID > afterID && o.NeedsReconciliation() {
			cp := *o
			orders = append(orders, &cp)
		}
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })

	return page(orders, limit, 0), nil
}

func (m *MockOrderRepository) ListAwaitingDispatch(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range m.store.orders {
		if o.AwaitingDispatch() && o.CreatedAt.Before(createdBefore) {
			cp := *o
			orders = append(orders, &cp)
		}
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })

	return page(orders, limit, 0), nil
}

// MockCatalogReader is a mock implementation of CatalogReader.
type MockCatalogReader struct {
	store *Store

	mu    sync.Mutex
	reads int
}

func (m *MockCatalogReader) Snapshot(ctx context.Context, tx usecase.Transaction, offeringID string) (*domain.OfferingSnapshot, error) {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	o, ok := m.store.offerings[offeringID]
	if !ok {
		return nil, domain.ErrOfferingNotFound
	}

	snap := &domain.OfferingSnapshot{Offering: *o, TakenAt: time.Now().UTC()}
	if o.Binding != nil {
		if p, ok := m.store.providers[o.Binding.ProviderID]; ok {
			cp := *p
			snap.Provider = &cp
		}
	}

	return snap, nil
}

// Reads returns how many snapshots were taken.
func (m *MockCatalogReader) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reads
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}

	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

// MockIDGenerator is a mock implementation of IDGenerator. IDs sort in creation order.
type MockIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("mock-id-%06d", m.counter)
}

// MockRetrier runs the operation up to Attempts times while it keeps failing
// with an error for which Retryable returns true.
type MockRetrier struct {
	Attempts      int
	UntilAttempts int
	Retryable     func(error) bool

	mu    sync.Mutex
	calls int
}

func NewMockRetrier() *MockRetrier {
	return &MockRetrier{Attempts: 1}
}

func (m *MockRetrier) Retry(ctx context.Context, operation func() error) error {
	var err error
	for attempt := 0; attempt < max(m.Attempts, 1); attempt++ {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()

		if err = operation(); err == nil {
			return nil
		}

		if m.Retryable == nil || !m.Retryable(err) {
			return err
		}
	}

	return err
}

// RetryUntil runs the operation up to UntilAttempts times (default 5). It stops
// early when permanent reports true or ctx is done.
func (m *MockRetrier) RetryUntil(ctx context.Context, operation func() error, permanent func(error) bool) error {
	limit := m.UntilAttempts
	if limit <= 0 {
		limit = 5
	}

	var err error
	for attempt := 0; attempt < limit; attempt++ {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()

		if err = operation(); err == nil {
			return nil
		}

		if (permanent != nil && permanent(err)) || ctx.Err() != nil {
			return err
		}
	}

	return err
}

// Calls returns how many times an operation was run.
func (m *MockRetrier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// LocalOrderLocker is an in-process OrderLocker keyed by order id.
type LocalOrderLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalOrderLocker() *LocalOrderLocker {
	return &LocalOrderLocker{held: make(map[string]bool)}
}

func (l *LocalOrderLocker) TryLock(ctx context.Context, orderID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[orderID] {
		return nil, false, nil
	}

	l.held[orderID] = true

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, orderID)
		return nil
	}, true, nil
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, domain.Notification) {}

// MockIdempotencyStore is a mock implementation of IdempotencyStore.
type MockIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	CheckAndSetFunc func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	UpdateFunc      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{
		data: make(map[string][]byte),
	}
}

func (m *MockIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if m.CheckAndSetFunc != nil {
		return m.CheckAndSetFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return true, existing, nil
	}
	if response != nil {
		m.data[key] = response
	} else {
		m.data[key] = []byte("processing")
	}
	return false, nil, nil
}

func (m *MockIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

func (m *MockIdempotencyStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var (
	_ usecase.AccountRepository  = (*MockAccountRepository)(nil)
	_ usecase.EntryRepository    = (*MockEntryRepository)(nil)
	_ usecase.LedgerRepository   = (*MockLedgerRepository)(nil)
	_ usecase.OrderRepository    = (*MockOrderRepository)(nil)
	_ usecase.CatalogReader      = (*MockCatalogReader)(nil)
	_ usecase.TransactionManager = (*MockTransactionManager)(nil)
	_ usecase.IdempotencyStore   = (*MockIdempotencyStore)(nil)
	_ usecase.OrderLocker        = (*LocalOrderLocker)(nil)
	_ usecase.Retrier            = (*MockRetrier)(nil)
	_ usecase.Notifier           = NoopNotifier{}
)
