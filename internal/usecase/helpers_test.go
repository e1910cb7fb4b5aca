package usecase_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
	"github.com/iho/smmpanel/internal/usecase"
	"github.com/iho/smmpanel/internal/usecase/mocks"
)

const (
	testAccountID     = "acc-1"
	testProviderID    = "prov-1"
	testOfferingID    = "off-1"
	testManualOffer   = "off-manual"
	testLink          = "https://instagram.com/someone"
	testUpstreamSvcID = "42"
)

type fixture struct {
	store    *mocks.Store
	gateway  *mocks.MockProviderGateway
	notifier *mocks.MockNotifier
	idGen    *mocks.MockIDGenerator
	retrier  *mocks.MockRetrier
	metrics  *metrics.Metrics
	ledger   *usecase.LedgerUseCase
	orders   *usecase.OrderUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := mocks.NewStore()

	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).AnyTimes()

	f := &fixture{
		store:    store,
		gateway:  mocks.NewMockProviderGateway(ctrl),
		notifier: notifier,
		idGen:    mocks.NewMockIDGenerator(),
		retrier:  mocks.NewMockRetrier(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}

	f.ledger = usecase.NewLedgerUseCase(
		store.TxManager, store.Accounts, store.Entries, store.Ledger,
		f.idGen, f.retrier, zerolog.Nop(), f.metrics,
	)
	f.orders = usecase.NewOrderUseCase(
		store.TxManager, store.Accounts, store.Orders, store.Catalog, f.ledger,
		f.gateway, f.notifier, f.idGen, f.retrier, zerolog.Nop(), f.metrics,
	)

	return f
}

// seedCatalog adds one active provider, a bound offering priced 2.50 per unit
// with bounds [10, 1000] and an unbound offering with the same terms.
func (f *fixture) seedCatalog() {
	f.store.AddProvider(domain.UpstreamProvider{
		ID:      testProviderID,
		Name:    "Upstream One",
		BaseURL: "https://upstream.example/api/v2",
		APIKey:  "secret",
		Status:  domain.CatalogStatusActive,
		Rate:    decimal.NewFromInt(1),
	})

	f.store.AddOffering(domain.ServiceOffering{
		ID:          testOfferingID,
		CategoryID:  "cat-1",
		Name:        "Followers",
		Status:      domain.CatalogStatusActive,
		MinQuantity: 10,
		MaxQuantity: 1000,
		UnitPrice:   decimal.RequireFromString("2.50"),
		Binding:     &domain.ProviderBinding{ProviderID: testProviderID, ServiceID: testUpstreamSvcID},
		DripFeed:    true,
		Refill:      true,
	})

	f.store.AddOffering(domain.ServiceOffering{
		ID:          testManualOffer,
		CategoryID:  "cat-1",
		Name:        "Manual likes",
		Status:      domain.CatalogStatusActive,
		MinQuantity: 10,
		MaxQuantity: 1000,
		UnitPrice:   decimal.RequireFromString("2.50"),
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg ...string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %s", want, got.String(), strings.Join(msg, " "))
}

// assertLedgerMatchesOrders checks the post-condition every placement must leave:
// an admitted order has exactly one debit of its price, a cancelled one has that
// debit plus an equal refund, and no entry exists without an order.
func assertLedgerMatchesOrders(t *testing.T, store *mocks.Store, accountID string, initial decimal.Decimal) {
	t.Helper()

	byOrder := make(map[string][]domain.LedgerEntry)
	for _, e := range store.AllEntries() {
		byOrder[e.CorrelationID] = append(byOrder[e.CorrelationID], e)
	}

	for orderID, entries := range byOrder {
		order, ok := store.Order(orderID)
		require.True(t, ok, "entries exist for missing order %s", orderID)

		switch order.Status {
		case domain.OrderStatusProcessing, domain.OrderStatusInProgress:
			require.Len(t, entries, 1, "order %s", orderID)
			assertDecimal(t, order.Price.Neg().String(), entries[0].Amount)
			assert.Equal(t, domain.ReasonOrderPlacement, entries[0].Reason)
		case domain.OrderStatusCancelled:
			require.Len(t, entries, 2, "order %s", orderID)
			assertDecimal(t, order.Price.Neg().String(), entries[0].Amount)
			assertDecimal(t, order.Price.String(), entries[1].Amount)
			assert.Equal(t, domain.ReasonOrderRefund, entries[1].Reason)
		default:
			t.Fatalf("unexpected status %s for order %s", order.Status, orderID)
		}
	}

	account := store.Account(accountID)
	assertDecimal(t, initial.Add(store.EntrySum(accountID)).String(), account.Balance, "balance must equal initial plus entries")
}
