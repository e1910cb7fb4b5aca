package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProviderErrorCategory is the machine-usable class of an upstream failure.
type ProviderErrorCategory string

const (
	ProviderUnreachable       ProviderErrorCategory = "unreachable"
	ProviderRejected          ProviderErrorCategory = "rejected"
	ProviderMalformedResponse ProviderErrorCategory = "malformed_response"
)

func (c ProviderErrorCategory) String() string {
	return string(c)
}

// ProviderError is every failure the provider gateway can return.
type ProviderError struct {
	Category   ProviderErrorCategory
	ProviderID string
	Action     string
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s %s: %s", e.ProviderID, e.Action, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SubmitRequest is a unit of work sent to an upstream provider.
type SubmitRequest struct {
	ServiceID string
	Link      string
	Quantity  int64
	DripFeed  *DripFeed
}

// ProviderOrderStatus is the normalized answer to a status query.
type ProviderOrderStatus struct {
	Status     OrderStatus
	RawStatus  string
	StartCount int64
	Remains    int64
	Charge     decimal.Decimal
	Currency   string
}

// Describe renders the human-readable status line stored on the order.
func (s *ProviderOrderStatus) Describe() string {
	if s.RawStatus == "" {
		return ""
	}

	return "upstream: " + s.RawStatus
}

// ParseUpstreamOrderStatus maps the vendor status vocabulary onto OrderStatus.
// Unknown values return "" so that callers keep the current status.
func ParseUpstreamOrderStatus(raw string) OrderStatus {
	switch normalizeStatus(raw) {
	case "pending":
		return OrderStatusPending
	case "processing":
		return OrderStatusProcessing
	case "inprogress", "active":
		return OrderStatusInProgress
	case "partial":
		return OrderStatusPartial
	case "completed", "complete", "success":
		return OrderStatusCompleted
	case "canceled", "cancelled", "cancel", "fail", "failed":
		return OrderStatusCancelled
	case "refunded", "refund":
		return OrderStatusRefunded
	default:
		return ""
	}
}

// ParseUpstreamRefillStatus maps vendor refill states onto RefillStatus.
func ParseUpstreamRefillStatus(raw string) RefillStatus {
	switch normalizeStatus(raw) {
	case "pending", "awaiting":
		return RefillStatusPending
	case "inprogress", "processing":
		return RefillStatusInProgress
	case "completed", "complete", "success":
		return RefillStatusCompleted
	case "rejected", "canceled", "cancelled", "error", "failed":
		return RefillStatusRejected
	default:
		return ""
	}
}

func normalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)

	return s
}
