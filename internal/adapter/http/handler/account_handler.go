package handler

import (
	"context"
	"net/http"

	"github.com/iho/smmpanel/internal/adapter/http/dto"
	"github.com/iho/smmpanel/internal/domain"
)

// AccountService defines the behavior needed by AccountHandler.
type AccountService interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, error)
}

// AccountHandler serves the caller's own account and ledger history.
type AccountHandler struct {
	accounts AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Get returns the caller's account with its current balance.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), p.AccountID)
	if err != nil {
		writeDomainError(w, "failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AccountFromDomain(account))
}

// ListEntries lists the caller's ledger entries, newest first.
func (h *AccountHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	limit, offset := domain.ValidatePagination(parseIntQuery(r, "limit", 0), parseIntQuery(r, "offset", 0))

	entries, err := h.accounts.ListEntries(r.Context(), p.AccountID, limit, offset)
	if err != nil {
		writeDomainError(w, "failed to list entries", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListEntriesResponse{
		Entries: dto.EntriesFromDomain(entries),
		Total:   int64(len(entries)),
	})
}
