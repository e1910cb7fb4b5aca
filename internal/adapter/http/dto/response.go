package dto

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Balance   string    `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountFromDomain converts domain account to response.
func AccountFromDomain(a *domain.Account) *AccountResponse {
	return &AccountResponse{
		ID:        a.ID,
		Status:    string(a.Status),
		Balance:   a.Balance.String(),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// EntryResponse represents a ledger entry in API responses.
type EntryResponse struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id"`
	Amount        string    `json:"amount"`
	Fee           string    `json:"fee"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntryFromDomain converts domain entry to response.
func EntryFromDomain(e *domain.LedgerEntry) *EntryResponse {
	return &EntryResponse{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Reason:        e.Reason,
		CorrelationID: e.CorrelationID,
		Amount:        e.Amount.String(),
		Fee:           e.Fee.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		CreatedAt:     e.CreatedAt,
	}
}

// EntriesFromDomain converts domain entries to responses.
func EntriesFromDomain(entries []*domain.LedgerEntry) []*EntryResponse {
	result := make([]*EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return result
}

// ListEntriesResponse is a page of ledger entries.
type ListEntriesResponse struct {
	Entries []*EntryResponse `json:"entries"`
	Total   int64            `json:"total"`
}

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"account_id"`
	OfferingID      string           `json:"offering_id"`
	Link            string           `json:"link"`
	Quantity        int64            `json:"quantity"`
	DripFeed        *DripFeedRequest `json:"drip_feed,omitempty"`
	Price           string           `json:"price"`
	Status          string           `json:"status"`
	UpstreamOrderID string           `json:"upstream_order_id,omitempty"`
	StartCount      int64            `json:"start_count"`
	Remains         int64            `json:"remains"`
	Description     string           `json:"description,omitempty"`
	RefillID        string           `json:"refill_id,omitempty"`
	RefillStatus    string           `json:"refill_status,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// OrderFromDomain converts domain order to response. Provider cost is internal
// and never exposed.
func OrderFromDomain(o *domain.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:          o.ID,
		AccountID:   o.AccountID,
		OfferingID:  o.OfferingID,
		Link:        o.Link,
		Quantity:    o.Quantity,
		Price:       o.Price.String(),
		Status:      string(o.Status),
		StartCount:  o.StartCount,
		Remains:     o.Remains,
		Description: o.Description,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}

	if o.DripFeed != nil {
		resp.DripFeed = &DripFeedRequest{Runs: o.DripFeed.Runs, Interval: o.DripFeed.Interval}
	}
	if o.UpstreamOrderID != nil {
		resp.UpstreamOrderID = *o.UpstreamOrderID
	}
	if o.RefillID != nil {
		resp.RefillID = *o.RefillID
	}
	if o.RefillStatus != nil {
		resp.RefillStatus = string(*o.RefillStatus)
	}

	return resp
}

// OrdersFromDomain converts domain orders to responses.
func OrdersFromDomain(orders []*domain.Order) []*OrderResponse {
	result := make([]*OrderResponse, len(orders))
	for i, o := range orders {
		result[i] = OrderFromDomain(o)
	}
	return result
}

// ListOrdersResponse is a page of orders.
type ListOrdersResponse struct {
	Orders []*OrderResponse `json:"orders"`
	Total  int64            `json:"total"`
}

// PlaceOrderResponse is returned for an admitted order.
type PlaceOrderResponse struct {
	Order   *OrderResponse `json:"order"`
	Price   string         `json:"price"`
	Balance string         `json:"balance"`
}

// PlaceOrderFromResult converts the admission result to a response.
func PlaceOrderFromResult(r *usecase.OrderResult) *PlaceOrderResponse {
	return &PlaceOrderResponse{
		Order:   OrderFromDomain(r.Order),
		Price:   r.Price.String(),
		Balance: r.Balance.String(),
	}
}

// ReconcileResultResponse is the outcome of a single-order reconciliation.
type ReconcileResultResponse struct {
	OrderID string         `json:"order_id"`
	Outcome string         `json:"outcome"`
	Order   *OrderResponse `json:"order,omitempty"`
}

// ReconcileResultFromUseCase converts a reconcile result to a response.
func ReconcileResultFromUseCase(r *usecase.ReconcileResult) *ReconcileResultResponse {
	resp := &ReconcileResultResponse{
		OrderID: r.OrderID,
		Outcome: string(r.Outcome),
	}
	if r.Order != nil {
		resp.Order = OrderFromDomain(r.Order)
	}

	return resp
}

// ReconcileReportResponse summarizes a reconciliation pass.
type ReconcileReportResponse struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checked    int       `json:"checked"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Recovered  int       `json:"recovered"`
}

// ReconcileReportFromUseCase converts a report to a response.
func ReconcileReportFromUseCase(r *usecase.ReconcileReport) *ReconcileReportResponse {
	return &ReconcileReportResponse{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Checked:    r.Checked,
		Updated:    r.Updated,
		Unchanged:  r.Unchanged,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Recovered:  r.Recovered,
	}
}

// DriftResponse describes one account whose balance disagrees with its entries.
type DriftResponse struct {
	AccountID     string `json:"account_id"`
	CachedBalance string `json:"cached_balance"`
	EntrySum      string `json:"entry_sum"`
	Difference    string `json:"difference"`
}

// ConsistencyResponse is the result of a ledger consistency check.
type ConsistencyResponse struct {
	Status     string          `json:"status"`
	Consistent bool            `json:"consistent"`
	Drifts     []DriftResponse `json:"drifts,omitempty"`
}

// ConsistencyFromDrifts converts drift rows to a response.
func ConsistencyFromDrifts(drifts []domain.BalanceDrift) *ConsistencyResponse {
	if len(drifts) == 0 {
		return &ConsistencyResponse{Status: "consistent", Consistent: true}
	}

	resp := &ConsistencyResponse{Status: "inconsistent", Drifts: make([]DriftResponse, len(drifts))}
	for i, d := range drifts {
		resp.Drifts[i] = DriftResponse{
			AccountID:     d.AccountID,
			CachedBalance: d.CachedBalance.String(),
			EntrySum:      d.EntrySum.String(),
			Difference:    d.Difference().String(),
		}
	}

	return resp
}

// ErrorResponse represents an error in API responses. The amount fields are set
// for insufficient-funds rejections.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message,omitempty"`
	Required  string         `json:"required,omitempty"`
	Balance   string         `json:"balance,omitempty"`
	Shortfall string         `json:"shortfall,omitempty"`
	Order     *OrderResponse `json:"order,omitempty"`
}

// ErrorFromDomain builds an error body from err, copying admission details.
func ErrorFromDomain(message string, err error) ErrorResponse {
	resp := ErrorResponse{Error: message, Message: err.Error()}

	var admErr *domain.AdmissionError
	if errors.As(err, &admErr) {
		if admErr.HasAmounts() {
			resp.Required = money(admErr.Required)
			resp.Balance = money(admErr.Balance)
			resp.Shortfall = money(admErr.Shortfall)
		}
		if admErr.Order != nil {
			resp.Order = OrderFromDomain(admErr.Order)
		}
	}

	return resp
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
