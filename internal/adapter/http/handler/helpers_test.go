package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/adapter/http/dto"
	"github.com/iho/smmpanel/internal/domain"
)

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=50", nil)
	if got := parseIntQuery(req, "limit", 10); got != 50 {
		t.Fatalf("expected limit=50, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/orders?limit=invalid", nil)
	if got := parseIntQuery(req, "limit", 10); got != 10 {
		t.Fatalf("expected fallback to default, got %d", got)
	}

	req.URL = &url.URL{RawQuery: ""}
	if got := parseIntQuery(req, "limit", 25); got != 25 {
		t.Fatalf("expected default when missing, got %d", got)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", domain.Validationf("link is required"), http.StatusBadRequest},
		{"insufficient funds", domain.NewInsufficientFunds(decimal.NewFromInt(10), decimal.NewFromInt(2)), http.StatusPaymentRequired},
		{"account not found", domain.ErrAccountNotFound, http.StatusNotFound},
		{"order not found", domain.ErrOrderNotFound, http.StatusNotFound},
		{"offering not found", domain.NewAdmissionError(domain.ErrOfferingNotFound, "offering %s", "off-1"), http.StatusNotFound},
		{"duplicate", domain.NewAdmissionError(domain.ErrDuplicateActiveOrder, ""), http.StatusConflict},
		{"refill pending", domain.ErrRefillPending, http.StatusConflict},
		{"locked", fmt.Errorf("%w: order o-1", domain.ErrOrderLocked), http.StatusConflict},
		{"inactive account", domain.ErrAccountInactive, http.StatusUnprocessableEntity},
		{"quantity", domain.ErrQuantityOutOfBounds, http.StatusUnprocessableEntity},
		{"refill not supported", domain.ErrRefillNotSupported, http.StatusUnprocessableEntity},
		{"dispatch failed", domain.NewAdmissionError(domain.ErrDispatchFailed, ""), http.StatusBadGateway},
		{"refill failed", domain.ErrRefillFailed, http.StatusBadGateway},
		{"persistence", domain.PersistenceError(errors.New("conn reset")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestWriteDomainError_CopiesShortfall(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, "order rejected", domain.NewInsufficientFunds(decimal.RequireFromString("12.5"), decimal.RequireFromString("2")))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Required != "12.50" || resp.Balance != "2.00" || resp.Shortfall != "10.50" {
		t.Fatalf("unexpected amounts: %+v", resp)
	}
}

func TestWriteDomainError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, "order rejected", domain.PersistenceError(errors.New("password authentication failed")))

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != domain.ErrPersistence.Error() {
		t.Fatalf("expected generic message, got %q", resp.Message)
	}
}

func TestPrincipalMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, ok := principal(rec, httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Fatalf("expected no principal")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
