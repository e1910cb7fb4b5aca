package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/smmpanel/internal/adapter/http/dto"
	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// ReconcileService defines the reconciliation entry points exposed to operators.
type ReconcileService interface {
	ReconcileOrder(ctx context.Context, orderID string) (*usecase.ReconcileResult, error)
	ReconcileOutstanding(ctx context.Context) (*usecase.ReconcileReport, error)
}

// ConsistencyChecker compares cached balances with their ledger entries.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context) ([]domain.BalanceDrift, error)
}

// AdminHandler handles operator-only requests.
type AdminHandler struct {
	reconciler ReconcileService
	ledger     ConsistencyChecker
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(reconciler ReconcileService, ledger ConsistencyChecker) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, ledger: ledger}
}

// ReconcileOutstanding runs one reconciliation pass over every outstanding order.
func (h *AdminHandler) ReconcileOutstanding(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.ReconcileOutstanding(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reconciliation failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconcileReportFromUseCase(report))
}

// ReconcileOrder syncs one order from its provider.
func (h *AdminHandler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.ReconcileOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeDomainError(w, "reconciliation failed", err)
			return
		}

		var provErr *domain.ProviderError
		if errors.As(err, &provErr) {
			writeError(w, http.StatusBadGateway, "reconciliation failed", err.Error())
			return
		}

		writeError(w, http.StatusInternalServerError, "reconciliation failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconcileResultFromUseCase(result))
}

// CheckConsistency reports accounts whose balance disagrees with their entries.
// Drift is answered with 409 so monitors can alert on the status alone.
func (h *AdminHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.ledger.CheckConsistency(r.Context())
	if err != nil && !errors.Is(err, usecase.ErrInconsistentLedger) {
		writeError(w, http.StatusInternalServerError, "consistency check failed", err.Error())
		return
	}

	status := http.StatusOK
	if len(drifts) > 0 {
		status = http.StatusConflict
	}

	writeJSON(w, status, dto.ConsistencyFromDrifts(drifts))
}
