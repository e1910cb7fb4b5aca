package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAccount_ValidateDebit(t *testing.T) {
	tests := []struct {
		name        string
		balance     decimal.Decimal
		debitAmount decimal.Decimal
		expectError bool
	}{
		{
			name:        "debit more than balance",
			balance:     decimal.NewFromInt(100),
			debitAmount: decimal.NewFromInt(150),
			expectError: true,
		},
		{
			name:        "debit exact balance",
			balance:     decimal.NewFromInt(100),
			debitAmount: decimal.NewFromInt(100),
			expectError: false,
		},
		{
			name:        "debit less than balance",
			balance:     decimal.NewFromInt(100),
			debitAmount: decimal.NewFromInt(50),
			expectError: false,
		},
		{
			name:        "fractional cent over balance",
			balance:     decimal.RequireFromString("1.00000000"),
			debitAmount: decimal.RequireFromString("1.00000001"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &Account{Balance: tt.balance}

			err := acc.ValidateDebit(tt.debitAmount)
			if tt.expectError && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("expected ErrInsufficientFunds, got %v", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAccount_ValidateDebitReportsShortfall(t *testing.T) {
	acc := &Account{Balance: decimal.RequireFromString("10.00")}

	err := acc.ValidateDebit(decimal.RequireFromString("25.00"))

	var admissionErr *AdmissionError
	if !errors.As(err, &admissionErr) {
		t.Fatalf("expected *AdmissionError, got %T", err)
	}

	if !admissionErr.Shortfall.Equal(decimal.RequireFromString("15.00")) {
		t.Errorf("expected shortfall 15.00, got %s", admissionErr.Shortfall)
	}
	if !admissionErr.Required.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("expected required 25.00, got %s", admissionErr.Required)
	}
	if !admissionErr.Balance.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("expected balance 10.00, got %s", admissionErr.Balance)
	}
}

func TestAccount_ApplyDebit(t *testing.T) {
	acc := &Account{Balance: decimal.NewFromInt(100)}
	newBalance := acc.ApplyDebit(decimal.NewFromInt(30))

	expected := decimal.NewFromInt(70)
	if !newBalance.Equal(expected) {
		t.Errorf("expected balance %s, got %s", expected, newBalance)
	}
}

func TestAccount_ApplyCredit(t *testing.T) {
	acc := &Account{Balance: decimal.NewFromInt(100)}
	newBalance := acc.ApplyCredit(decimal.NewFromInt(30))

	expected := decimal.NewFromInt(130)
	if !newBalance.Equal(expected) {
		t.Errorf("expected balance %s, got %s", expected, newBalance)
	}
}
