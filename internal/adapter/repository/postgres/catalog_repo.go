package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// CatalogRepository implements usecase.CatalogReader. It only reads; the catalog
// is maintained elsewhere.
type CatalogRepository struct {
	db DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Snapshot reads an offering and its bound provider in one statement. Inside a
// transaction the read sees the same data as the rest of the transaction.
func (r *CatalogRepository) Snapshot(ctx context.Context, tx usecase.Transaction, offeringID string) (*domain.OfferingSnapshot, error) {
	q, err := conn(r.db, tx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT o.id, o.category_id, o.name, o.status, o.min_quantity, o.max_quantity,
		       o.unit_price, o.provider_id, o.provider_service_id, o.drip_feed, o.refill,
		       p.id, p.name, p.base_url, p.api_key, p.status, p.rate
		FROM offerings o
		LEFT JOIN providers p ON p.id = o.provider_id
		WHERE o.id = $1
	`

	var (
		offering                    domain.ServiceOffering
		offeringStatus              string
		unitPrice                   pgtype.Numeric
		bindingProvider, bindingSvc *string
		providerID, providerName    *string
		providerURL, providerKey    *string
		providerStatus              *string
		providerRate                pgtype.Numeric
	)

	err = q.QueryRow(ctx, query, offeringID).Scan(
		&offering.ID,
		&offering.CategoryID,
		&offering.Name,
		&offeringStatus,
		&offering.MinQuantity,
		&offering.MaxQuantity,
		&unitPrice,
		&bindingProvider,
		&bindingSvc,
		&offering.DripFeed,
		&offering.Refill,
		&providerID,
		&providerName,
		&providerURL,
		&providerKey,
		&providerStatus,
		&providerRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOfferingNotFound
		}

		return nil, err
	}

	offering.Status = domain.CatalogStatus(offeringStatus)
	offering.UnitPrice = numericToDecimal(unitPrice)

	snapshot := &domain.OfferingSnapshot{TakenAt: time.Now().UTC()}

	if bindingProvider != nil && bindingSvc != nil {
		offering.Binding = &domain.ProviderBinding{ProviderID: *bindingProvider, ServiceID: *bindingSvc}
	}

	if providerID != nil {
		snapshot.Provider = &domain.UpstreamProvider{
			ID:      *providerID,
			Name:    deref(providerName),
			BaseURL: deref(providerURL),
			APIKey:  deref(providerKey),
			Status:  domain.CatalogStatus(deref(providerStatus)),
			Rate:    numericToDecimal(providerRate),
		}
	}

	snapshot.Offering = offering

	return snapshot, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
