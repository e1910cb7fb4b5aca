package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogStatus is shared by offerings and providers.
type CatalogStatus string

const (
	CatalogStatusActive   CatalogStatus = "active"
	CatalogStatusInactive CatalogStatus = "inactive"
)

// UpstreamProvider is a third-party API that fulfils orders.
type UpstreamProvider struct {
	ID      string
	Name    string
	BaseURL string
	APIKey  string
	Status  CatalogStatus
	// Rate converts the provider-reported charge into panel currency.
	Rate decimal.Decimal
}

// IsActive reports whether new orders may be sent to the provider.
func (p *UpstreamProvider) IsActive() bool {
	return p.Status == CatalogStatusActive
}

// ConversionRate is the multiplier applied to upstream charges. An unset rate means 1.
func (p *UpstreamProvider) ConversionRate() decimal.Decimal {
	if p.Rate.IsPositive() {
		return p.Rate
	}

	return decimal.NewFromInt(1)
}

// ProviderBinding ties an offering to a provider-side service.
type ProviderBinding struct {
	ProviderID string
	ServiceID  string
}

// ServiceOffering is a purchasable, unit-priced service.
type ServiceOffering struct {
	ID          string
	CategoryID  string
	Name        string
	Status      CatalogStatus
	MinQuantity int64
	MaxQuantity int64
	UnitPrice   decimal.Decimal
	Binding     *ProviderBinding
	DripFeed    bool
	Refill      bool
}

// IsActive reports whether the offering accepts orders.
func (o *ServiceOffering) IsActive() bool {
	return o.Status == CatalogStatusActive
}

// InBounds reports whether quantity lies in [MinQuantity, MaxQuantity].
func (o *ServiceOffering) InBounds(quantity int64) bool {
	return quantity >= o.MinQuantity && quantity <= o.MaxQuantity
}

// PriceFor returns the charge for quantity units.
func (o *ServiceOffering) PriceFor(quantity int64) decimal.Decimal {
	return RoundMoney(decimal.NewFromInt(quantity).Mul(o.UnitPrice))
}

// OfferingSnapshot is a point-in-time view of an offering and its provider.
// Provider is nil for offerings fulfilled manually.
type OfferingSnapshot struct {
	Offering ServiceOffering
	Provider *UpstreamProvider
	TakenAt  time.Time
}

// Bound reports whether the offering is fulfilled by an upstream provider.
func (s *OfferingSnapshot) Bound() bool {
	return s.Offering.Binding != nil
}

// CheckOrderable applies the catalog-side admission rules.
func (s *OfferingSnapshot) CheckOrderable() error {
	if !s.Offering.IsActive() {
		return NewAdmissionError(ErrOfferingUnavailable, "offering %s is inactive", s.Offering.ID)
	}

	if s.Offering.MinQuantity > s.Offering.MaxQuantity {
		return NewAdmissionError(ErrOfferingUnavailable, "offering %s has invalid bounds", s.Offering.ID)
	}

	if !s.Bound() {
		return nil
	}

	if s.Provider == nil || !s.Provider.IsActive() {
		return NewAdmissionError(ErrProviderUnavailable, "provider %s is not active", s.Offering.Binding.ProviderID)
	}

	return nil
}
