package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// Input errors
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAmount = errors.New("amount must be positive")

	// Account errors
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Admission errors
	ErrDuplicateActiveOrder = errors.New("an active order already exists for this link")
	ErrOfferingNotFound     = errors.New("offering not found")
	ErrOfferingUnavailable  = errors.New("offering is unavailable")
	ErrProviderUnavailable  = errors.New("provider is unavailable")
	ErrQuantityOutOfBounds  = errors.New("quantity out of bounds")
	ErrDispatchFailed       = errors.New("provider dispatch failed")
	ErrPersistence          = errors.New("persistence failure")

	// Order follow-up errors
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotDispatched = errors.New("order has not been dispatched to a provider")
	ErrRefillNotSupported = errors.New("offering does not support refill")
	ErrRefillPending      = errors.New("a refill is already pending for this order")
	ErrRefillFailed       = errors.New("refill request failed")
	ErrOrderLocked        = errors.New("order is being updated, retry shortly")
	// ErrOrderSettled means a guarded write found the order already dispatched or cancelled.
	ErrOrderSettled = errors.New("order is already settled")
)

// businessErrors are outcomes that retrying the same write cannot change.
var businessErrors = []error{
	ErrValidation,
	ErrInvalidAmount,
	ErrAccountNotFound,
	ErrAccountInactive,
	ErrInsufficientFunds,
	ErrDuplicateActiveOrder,
	ErrOrderNotFound,
	ErrOrderSettled,
}

// IsBusinessError reports whether err is a domain outcome rather than an
// infrastructure fault such as a dropped connection or a timeout.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// AdmissionError is returned by the order pipeline for every rejected or failed attempt.
// Kind is one of the sentinels above and is what errors.Is matches against.
type AdmissionError struct {
	Kind      error
	Reason    string
	Required  decimal.Decimal
	Balance   decimal.Decimal
	Shortfall decimal.Decimal
	// Order is set when the order was persisted before the failure (dispatch failures).
	Order *Order
	Err   error
}

func (e *AdmissionError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *AdmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// HasAmounts reports whether the error carries required/balance figures.
func (e *AdmissionError) HasAmounts() bool {
	return !e.Required.IsZero() || !e.Balance.IsZero()
}

// NewAdmissionError builds an AdmissionError of the given kind.
func NewAdmissionError(kind error, format string, args ...any) *AdmissionError {
	return &AdmissionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// NewInsufficientFunds reports how far the balance falls short of required.
func NewInsufficientFunds(required, balance decimal.Decimal) *AdmissionError {
	return &AdmissionError{
		Kind:      ErrInsufficientFunds,
		Reason:    fmt.Sprintf("required %s, balance %s", required.StringFixed(2), balance.StringFixed(2)),
		Required:  required,
		Balance:   balance,
		Shortfall: required.Sub(balance),
	}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *AdmissionError {
	return NewAdmissionError(ErrValidation, format, args...)
}

// PersistenceError wraps an infrastructure fault while committing state.
func PersistenceError(err error) *AdmissionError {
	return &AdmissionError{Kind: ErrPersistence, Err: err}
}

// ReconciliationError records a failed status sync for one order. It never reaches end users.
type ReconciliationError struct {
	OrderID string
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile order %s: %v", e.OrderID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}
