package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/smmpanel/internal/adapter/http/dto"
	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// OrderService defines the behavior needed by OrderHandler.
type OrderService interface {
	PlaceOrder(ctx context.Context, input usecase.PlaceOrderInput) (*usecase.OrderResult, error)
	GetOrder(ctx context.Context, principal domain.Principal, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, principal domain.Principal, filter domain.OrderFilter) ([]*domain.Order, error)
}

// RefillService defines the behavior needed to request refills.
type RefillService interface {
	RequestRefill(ctx context.Context, principal domain.Principal, orderID string) (*domain.Order, error)
}

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	orders  OrderService
	refills RefillService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders OrderService, refills RefillService) *OrderHandler {
	return &OrderHandler{orders: orders, refills: refills}
}

// Place admits a new order for the caller's account.
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req dto.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := h.orders.PlaceOrder(r.Context(), req.ToUseCaseInput(p.AccountID))
	if err != nil {
		writeDomainError(w, "order rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.PlaceOrderFromResult(result))
}

// Get returns a single order.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get order", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.OrderFromDomain(order))
}

// List lists the caller's orders. Admins may filter by account_id.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	filter := domain.OrderFilter{
		AccountID: r.URL.Query().Get("account_id"),
		Status:    domain.OrderStatus(r.URL.Query().Get("status")),
		Limit:     parseIntQuery(r, "limit", 0),
		Offset:    parseIntQuery(r, "offset", 0),
	}

	orders, err := h.orders.ListOrders(r.Context(), p, filter)
	if err != nil {
		writeDomainError(w, "failed to list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListOrdersResponse{
		Orders: dto.OrdersFromDomain(orders),
		Total:  int64(len(orders)),
	})
}

// Refill asks the provider to restore lost units on an order.
func (h *OrderHandler) Refill(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	order, err := h.refills.RequestRefill(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderLocked) {
			w.Header().Set("Retry-After", "1")
		}
		writeDomainError(w, "refill rejected", err)
		return
	}

	writeJSON(w, http.StatusAccepted, dto.OrderFromDomain(order))
}
