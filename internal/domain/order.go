package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusCreated is transient and never persisted.
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusInProgress OrderStatus = "in-progress"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// ActiveOrderStatuses are the statuses covered by the duplicate-order guard.
var ActiveOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusInProgress,
}

// NonTerminalOrderStatuses are the statuses the reconciliation loop keeps polling.
var NonTerminalOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusInProgress,
	OrderStatusPartial,
}

// IsActive reports whether s is covered by the duplicate-order guard.
func (s OrderStatus) IsActive() bool {
	for _, active := range ActiveOrderStatuses {
		if s == active {
			return true
		}
	}

	return false
}

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a persistable status.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusInProgress, OrderStatusPartial,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// RefillStatus tracks a refill request made on behalf of an order.
type RefillStatus string

const (
	RefillStatusPending    RefillStatus = "pending"
	RefillStatusInProgress RefillStatus = "in-progress"
	RefillStatusCompleted  RefillStatus = "completed"
	RefillStatusRejected   RefillStatus = "rejected"
)

// IsTerminal reports whether the refill has finished.
func (s RefillStatus) IsTerminal() bool {
	return s == RefillStatusCompleted || s == RefillStatusRejected
}

// DripFeed splits an order into Runs deliveries spaced Interval minutes apart.
type DripFeed struct {
	Runs     int64
	Interval int64
}

// Order is a purchase of Quantity units of an offering for Link.
type Order struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DripFeed        *DripFeed
	UpstreamOrderID *string
	RefillID        *string
	RefillStatus    *RefillStatus
	ID              string
	AccountID       string
	OfferingID      string
	// ProviderID is the provider the order is dispatched through; empty for manual offerings.
	ProviderID      string
	Link            string
	Description     string
	Status          OrderStatus
	Quantity        int64
	StartCount      int64
	Remains         int64
	Price           decimal.Decimal
	ProviderCost    decimal.Decimal
}

// EffectiveQuantity is the total number of units delivered over all runs.
func (o *Order) EffectiveQuantity() int64 {
	return EffectiveQuantity(o.Quantity, o.DripFeed)
}

// EffectiveQuantity multiplies quantity by the drip-feed run count, if any.
func EffectiveQuantity(quantity int64, drip *DripFeed) int64 {
	if drip == nil {
		return quantity
	}

	return quantity * drip.Runs
}

// Dispatched reports whether the provider accepted the order.
func (o *Order) Dispatched() bool {
	return o.UpstreamOrderID != nil && *o.UpstreamOrderID != ""
}

// AwaitingDispatch reports whether the order was reserved for a provider but no
// upstream id was ever recorded for it.
func (o *Order) AwaitingDispatch() bool {
	return o.ProviderID != "" && !o.Dispatched() && o.Status == OrderStatusProcessing
}

// RefillOutstanding reports whether a refill has been requested and not finished.
func (o *Order) RefillOutstanding() bool {
	return o.RefillID != nil && o.RefillStatus != nil && !o.RefillStatus.IsTerminal()
}

// NeedsReconciliation reports whether the order is eligible for a sync pass.
func (o *Order) NeedsReconciliation() bool {
	if !o.Dispatched() {
		return false
	}

	return !o.Status.IsTerminal() || o.RefillOutstanding()
}

// ApplyUpstreamStatus overwrites the provider-reported fields. It returns true when
// anything changed; fields are replaced, never accumulated.
func (o *Order) ApplyUpstreamStatus(st *ProviderOrderStatus, rate decimal.Decimal) bool {
	changed := false

	if st.Status != "" && st.Status != o.Status {
		o.Status = st.Status
		changed = true
	}

	if st.StartCount != o.StartCount {
		o.StartCount = st.StartCount
		changed = true
	}

	if st.Remains != o.Remains {
		o.Remains = st.Remains
		changed = true
	}

	if desc := st.Describe(); desc != o.Description {
		o.Description = desc
		changed = true
	}

	if !st.Charge.IsZero() {
		cost := RoundMoney(st.Charge.Mul(rate))
		if !cost.Equal(o.ProviderCost) {
			o.ProviderCost = cost
			changed = true
		}
	}

	return changed
}

// ApplyRefillStatus overwrites the refill status, returning true if it changed.
func (o *Order) ApplyRefillStatus(st RefillStatus) bool {
	if st == "" || (o.RefillStatus != nil && *o.RefillStatus == st) {
		return false
	}

	o.RefillStatus = &st

	return true
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	AccountID string
	Status    OrderStatus
	Limit     int
	Offset    int
}
