package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry reasons written by the order flow.
const (
	ReasonOrderPlacement = "order placement"
	ReasonOrderRefund    = "order refund"
)

// LedgerEntry is one immutable movement on an account. Credits are positive,
// debits negative.
type LedgerEntry struct {
	CreatedAt     time.Time
	ID            string
	AccountID     string
	Reason        string
	CorrelationID string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// IsDebit reports whether the entry removed funds.
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}

// BalanceDrift describes an account whose cached balance disagrees with its entries.
type BalanceDrift struct {
	AccountID     string
	CachedBalance decimal.Decimal
	EntrySum      decimal.Decimal
}

// Difference returns cached minus computed.
func (d BalanceDrift) Difference() decimal.Decimal {
	return d.CachedBalance.Sub(d.EntrySum)
}
