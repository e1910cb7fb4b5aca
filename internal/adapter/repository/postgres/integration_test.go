package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
	infrapg "github.com/iho/smmpanel/internal/infrastructure/postgres"
	"github.com/iho/smmpanel/internal/usecase"
	"github.com/iho/smmpanel/internal/usecase/mocks"
)

// newIntegrationPool connects to TEST_DATABASE_URL, migrates it and empties
// every table. Tests are skipped when the variable is unset.
func newIntegrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	_, file, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")

	if err := infrapg.RunMigrations(dbURL, migrationsPath, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := infrapg.NewPoolWithConfig(ctx, infrapg.PoolConfig{
		DatabaseURL:     dbURL,
		MaxConns:        20,
		MinConns:        2,
		LockTimeout:     5 * time.Second,
		ApplicationName: "smmpanel-integration",
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	// The immutability trigger fires on DELETE, TRUNCATE bypasses it.
	if _, err := pool.Exec(ctx, `TRUNCATE orders, ledger_entries, offerings, providers, accounts`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	return pool
}

func seedAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string, balance decimal.Decimal) {
	t.Helper()

	if _, err := pool.Exec(ctx, `INSERT INTO accounts (id, balance) VALUES ($1, $2)`, id, balance.String()); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if balance.IsZero() {
		return
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, reason, correlation_id, amount, balance_after) VALUES ($1, $2, 'deposit', $1, $3, $3)`,
		"dep-"+id, id, balance.String(),
	); err != nil {
		t.Fatalf("failed to seed deposit: %v", err)
	}
}

func seedManualOffering(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string) {
	t.Helper()

	if _, err := pool.Exec(ctx,
		`INSERT INTO offerings (id, category_id, name, min_quantity, max_quantity, unit_price) VALUES ($1, 'cat', 'followers', 10, 10000, 0.01)`,
		id,
	); err != nil {
		t.Fatalf("failed to seed offering: %v", err)
	}
}

type integrationStack struct {
	ledger *usecase.LedgerUseCase
	orders *usecase.OrderUseCase
}

func newIntegrationStack(pool *pgxpool.Pool) integrationStack {
	m := metrics.New(prometheus.NewRegistry())
	logger := zerolog.Nop()
	txManager := NewTxManager(pool)
	accountRepo := NewAccountRepository(pool)
	retrier := NewRetrier(logger, m)
	idGen := NewULIDGenerator()

	ledger := usecase.NewLedgerUseCase(txManager, accountRepo, NewEntryRepository(pool), NewLedgerRepository(pool), idGen, retrier, logger, m)
	orders := usecase.NewOrderUseCase(txManager, accountRepo, NewOrderRepository(pool), NewCatalogRepository(pool),
		ledger, nil, mocks.NoopNotifier{}, idGen, retrier, logger, m)

	return integrationStack{ledger: ledger, orders: orders}
}

func TestIntegration_ConcurrentOrdersNeverOverdraw(t *testing.T) {
	pool := newIntegrationPool(t)
	ctx := context.Background()
	stack := newIntegrationStack(pool)

	seedAccount(t, ctx, pool, "acc-1", decimal.NewFromInt(20))
	seedManualOffering(t, ctx, pool, "off-1")

	const attempts = 50

	var (
		wg           sync.WaitGroup
		admitted     atomic.Int32
		insufficient atomic.Int32
		unexpected   atomic.Int32
	)

	wg.Add(attempts)
	for i := range attempts {
		go func() {
			defer wg.Done()

			_, err := stack.orders.PlaceOrder(ctx, usecase.PlaceOrderInput{
				AccountID:  "acc-1",
				OfferingID: "off-1",
				Link:       fmt.Sprintf("https://example.com/p/%d", i),
				Quantity:   100,
			})

			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Logf("unexpected error: %v", err)
				unexpected.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 20 || insufficient.Load() != 30 || unexpected.Load() != 0 {
		t.Fatalf("admitted=%d insufficient=%d unexpected=%d", admitted.Load(), insufficient.Load(), unexpected.Load())
	}

	account, err := stack.ledger.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("expected balance 0, got %s", account.Balance)
	}

	if drifts, err := stack.ledger.CheckConsistency(ctx); err != nil || len(drifts) != 0 {
		t.Fatalf("expected consistent ledger, got drifts=%v err=%v", drifts, err)
	}
}

func TestIntegration_DuplicateActiveOrderGuard(t *testing.T) {
	pool := newIntegrationPool(t)
	ctx := context.Background()
	stack := newIntegrationStack(pool)

	seedAccount(t, ctx, pool, "acc-1", decimal.NewFromInt(100))
	seedManualOffering(t, ctx, pool, "off-1")

	const attempts = 10

	var (
		wg         sync.WaitGroup
		admitted   atomic.Int32
		duplicates atomic.Int32
	)

	wg.Add(attempts)
	for range attempts {
		go func() {
			defer wg.Done()

			_, err := stack.orders.PlaceOrder(ctx, usecase.PlaceOrderInput{
				AccountID:  "acc-1",
				OfferingID: "off-1",
				Link:       "https://example.com/same",
				Quantity:   100,
			})
			if err == nil {
				admitted.Add(1)
			} else if errors.Is(err, domain.ErrDuplicateActiveOrder) {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 || duplicates.Load() != attempts-1 {
		t.Fatalf("admitted=%d duplicates=%d", admitted.Load(), duplicates.Load())
	}

	account, err := stack.ledger.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected a single charge, balance %s", account.Balance)
	}
}

func TestIntegration_LedgerEntriesAreImmutable(t *testing.T) {
	pool := newIntegrationPool(t)
	ctx := context.Background()

	seedAccount(t, ctx, pool, "acc-1", decimal.NewFromInt(5))

	if _, err := pool.Exec(ctx, `UPDATE ledger_entries SET amount = 1 WHERE account_id = 'acc-1'`); err == nil {
		t.Fatalf("expected update of a ledger entry to fail")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM ledger_entries WHERE account_id = 'acc-1'`); err == nil {
		t.Fatalf("expected delete of a ledger entry to fail")
	}
}
