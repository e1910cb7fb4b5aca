package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

// PlaceOrderInput is a purchase request on behalf of AccountID.
type PlaceOrderInput struct {
	DripFeed   *domain.DripFeed
	AccountID  string
	OfferingID string
	Link       string
	Quantity   int64
}

// OrderResult is the outcome of a successful admission.
type OrderResult struct {
	Order   *domain.Order
	Price   decimal.Decimal
	Balance decimal.Decimal
}

// OrderUseCase admits orders: it reserves funds, dispatches to the provider and
// compensates when the dispatch fails.
type OrderUseCase struct {
	txManager       TransactionManager
	accountRepo     AccountRepository
	orderRepo       OrderRepository
	catalog         CatalogReader
	ledger          *LedgerUseCase
	gateway         ProviderGateway
	notifier        Notifier
	idGen           IDGenerator
	retrier         Retrier
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	providerTimeout time.Duration
}

// NewOrderUseCase creates a new OrderUseCase.
func NewOrderUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	orderRepo OrderRepository,
	catalog CatalogReader,
	ledger *LedgerUseCase,
	gateway ProviderGateway,
	notifier Notifier,
	idGen IDGenerator,
	retrier Retrier,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) *OrderUseCase {
	return &OrderUseCase{
		txManager:       txManager,
		accountRepo:     accountRepo,
		orderRepo:       orderRepo,
		catalog:         catalog,
		ledger:          ledger,
		gateway:         gateway,
		notifier:        notifier,
		idGen:           idGen,
		retrier:         retrier,
		logger:          logger.With().Str("component", "orders").Logger(),
		metrics:         metrics,
		providerTimeout: DefaultProviderTimeout,
	}
}

// WithProviderTimeout overrides the bound on the dispatch call.
func (uc *OrderUseCase) WithProviderTimeout(d time.Duration) *OrderUseCase {
	if d > 0 {
		uc.providerTimeout = d
	}

	return uc
}

// admission is what the reservation transaction hands to the dispatch step.
type admission struct {
	order    *domain.Order
	snapshot *domain.OfferingSnapshot
	balance  decimal.Decimal
}

// PlaceOrder runs the admission pipeline. Every failure is a *domain.AdmissionError;
// when it is returned the ledger is consistent with the order state.
func (uc *OrderUseCase) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*OrderResult, error) {
	start := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.OrderDuration.Observe(time.Since(start).Seconds())
		}
	}()

	input.Link = strings.TrimSpace(input.Link)

	if err := validatePlaceOrder(input); err != nil {
		return nil, uc.rejected(err)
	}

	var adm *admission

	err := uc.retrier.Retry(ctx, func() error {
		var err error
		adm, err = uc.reserve(ctx, input)

		return err
	})
	if err != nil {
		return nil, uc.rejected(err)
	}

	order := adm.order

	uc.logger.Info().
		Str("order_id", order.ID).
		Str("account_id", order.AccountID).
		Str("offering_id", order.OfferingID).
		Str("price", order.Price.String()).
		Msg("order reserved")

	uc.notify(ctx, order, domain.NotificationOrderPlaced,
		fmt.Sprintf("Order %s placed for %s", order.ID, order.Price.StringFixed(2)))

	if !adm.snapshot.Bound() {
		uc.admitted(order)

		return &OrderResult{Order: order, Price: order.Price, Balance: adm.balance}, nil
	}

	return uc.dispatch(ctx, adm, input)
}

func validatePlaceOrder(input PlaceOrderInput) error {
	if input.AccountID == "" {
		return domain.Validationf("account is required")
	}

	if input.OfferingID == "" {
		return domain.Validationf("offering is required")
	}

	if err := domain.ValidateLink(input.Link); err != nil {
		return err
	}

	if err := domain.ValidateQuantity(input.Quantity); err != nil {
		return err
	}

	return domain.ValidateDripFeed(input.DripFeed)
}

// reserve checks every precondition and commits the order together with its debit.
func (uc *OrderUseCase) reserve(ctx context.Context, input PlaceOrderInput) (*admission, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, domain.PersistenceError(err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, input.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.NewAdmissionError(domain.ErrAccountNotFound, "account %s", input.AccountID)
		}

		return nil, domain.PersistenceError(err)
	}

	if !account.IsActive() {
		return nil, domain.NewAdmissionError(domain.ErrAccountInactive, "account %s", account.ID)
	}

	exists, err := uc.orderRepo.ExistsActive(txCtx, tx, account.ID, input.OfferingID, input.Link)
	if err != nil {
		return nil, domain.PersistenceError(err)
	}

	if exists {
		return nil, domain.NewAdmissionError(domain.ErrDuplicateActiveOrder, "offering %s, link %s", input.OfferingID, input.Link)
	}

	snapshot, err := uc.catalog.Snapshot(txCtx, tx, input.OfferingID)
	if err != nil {
		if errors.Is(err, domain.ErrOfferingNotFound) {
			return nil, &domain.AdmissionError{
				Kind:   domain.ErrOfferingUnavailable,
				Reason: fmt.Sprintf("offering %s does not exist", input.OfferingID),
				Err:    err,
			}
		}

		return nil, domain.PersistenceError(err)
	}

	if err := snapshot.CheckOrderable(); err != nil {
		return nil, err
	}

	offering := snapshot.Offering

	if input.DripFeed != nil && !offering.DripFeed {
		return nil, domain.Validationf("offering %s does not support drip-feed", offering.ID)
	}

	effective := domain.EffectiveQuantity(input.Quantity, input.DripFeed)
	if !offering.InBounds(effective) {
		return nil, domain.NewAdmissionError(domain.ErrQuantityOutOfBounds,
			"quantity %d outside [%d, %d]", effective, offering.MinQuantity, offering.MaxQuantity)
	}

	price := offering.PriceFor(effective)
	if !price.IsPositive() {
		return nil, domain.NewAdmissionError(domain.ErrOfferingUnavailable,
			"offering %s prices %d units at zero", offering.ID, effective)
	}

	if err := account.ValidateDebit(price); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:         uc.idGen.Generate(),
		AccountID:  account.ID,
		OfferingID: offering.ID,
		Link:       input.Link,
		Quantity:   input.Quantity,
		DripFeed:   input.DripFeed,
		Price:      price,
		Status:     domain.OrderStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if snapshot.Bound() {
		order.ProviderID = snapshot.Provider.ID
	}

	if err := uc.orderRepo.Create(txCtx, tx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveOrder) {
			return nil, domain.NewAdmissionError(domain.ErrDuplicateActiveOrder, "offering %s, link %s", input.OfferingID, input.Link)
		}

		return nil, domain.PersistenceError(err)
	}

	_, err = uc.ledger.ApplyLocked(txCtx, tx, account, LedgerInput{
		AccountID:     account.ID,
		Reason:        domain.ReasonOrderPlacement,
		CorrelationID: order.ID,
		Amount:        price.Neg(),
	})
	if err != nil {
		var admissionErr *domain.AdmissionError
		if errors.As(err, &admissionErr) {
			return nil, err
		}

		return nil, domain.PersistenceError(err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, domain.PersistenceError(err)
	}

	return &admission{order: order, snapshot: snapshot, balance: account.Balance}, nil
}

// dispatch submits a committed order upstream. No lock is held during the call.
func (uc *OrderUseCase) dispatch(ctx context.Context, adm *admission, input PlaceOrderInput) (*OrderResult, error) {
	order := adm.order
	snapshot := adm.snapshot

	dctx, cancel := context.WithTimeout(ctx, uc.providerTimeout)
	upstreamID, err := uc.gateway.Submit(dctx, snapshot.Provider, domain.SubmitRequest{
		ServiceID: snapshot.Offering.Binding.ServiceID,
		Link:      order.Link,
		Quantity:  input.Quantity,
		DripFeed:  input.DripFeed,
	})
	cancel()

	if err == nil && upstreamID == "" {
		err = &domain.ProviderError{
			Category:   domain.ProviderMalformedResponse,
			ProviderID: snapshot.Provider.ID,
			Action:     "add",
			Message:    "empty order id",
		}
	}

	// The reservation is committed; the rest must run even if the caller went away.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		return nil, uc.compensate(ctx, order, snapshot.Provider.ID, err)
	}

	now := time.Now().UTC()

	mctx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	err = uc.retrier.RetryUntil(mctx, func() error {
		return uc.orderRepo.MarkDispatched(mctx, order.ID, upstreamID, now)
	}, domain.IsBusinessError)
	cancel()

	if errors.Is(err, domain.ErrOrderSettled) {
		uc.logger.Error().
			Str("order_id", order.ID).
			Str("upstream_order_id", upstreamID).
			Msg("order was settled before its upstream id could be stored; cancel it upstream")

		return nil, &domain.AdmissionError{
			Kind:     domain.ErrDispatchFailed,
			Reason:   fmt.Sprintf("order %s was cancelled before dispatch was recorded", order.ID),
			Required: order.Price,
			Order:    order,
			Err:      err,
		}
	}

	if err != nil {
		// Left processing without an upstream id, the recovery sweep refunds it
		// once the grace period passes.
		uc.logger.Error().
			Err(err).
			Str("order_id", order.ID).
			Str("upstream_order_id", upstreamID).
			Msg("order dispatched but upstream id could not be stored")
		uc.admitted(order)

		return &OrderResult{Order: order, Price: order.Price, Balance: adm.balance}, nil
	}

	order.Status = domain.OrderStatusInProgress
	order.UpstreamOrderID = &upstreamID
	order.UpdatedAt = now

	uc.logger.Info().
		Str("order_id", order.ID).
		Str("provider_id", snapshot.Provider.ID).
		Str("upstream_order_id", upstreamID).
		Msg("order dispatched")
	uc.admitted(order)

	return &OrderResult{Order: order, Price: order.Price, Balance: adm.balance}, nil
}

// compensate is the only place a reservation is refunded. It cancels the order
// and credits the exact price in one transaction, retrying infrastructure faults
// until DefaultCompensationTimeout. The cancel is guarded, so a refund that
// already committed is never repeated.
func (uc *OrderUseCase) compensate(ctx context.Context, order *domain.Order, providerID string, cause error) error {
	providerErr := asProviderError(cause, providerID)
	description := "dispatch failed: " + providerErr.Category.String()
	if providerErr.Message != "" {
		description += ": " + providerErr.Message
	}

	if uc.metrics != nil {
		uc.metrics.DispatchFailures.WithLabelValues(providerErr.Category.String()).Inc()
	}

	cctx, cancel := context.WithTimeout(ctx, DefaultCompensationTimeout)
	defer cancel()

	var refund *domain.LedgerEntry

	err := uc.retrier.RetryUntil(cctx, func() error {
		entry, err := uc.refund(cctx, order, description)
		if err != nil {
			return err
		}

		refund = entry

		return nil
	}, domain.IsBusinessError)

	if errors.Is(err, domain.ErrOrderSettled) {
		return uc.settledElsewhere(ctx, order, providerErr)
	}

	if err != nil {
		uc.logger.Error().
			Err(err).
			AnErr("dispatch_error", providerErr).
			Str("order_id", order.ID).
			Str("account_id", order.AccountID).
			Str("price", order.Price.String()).
			Msg("CRITICAL: compensation failed, account debited until the recovery sweep refunds it")

		if uc.metrics != nil {
			uc.metrics.CompensationFailures.Inc()
			uc.metrics.OrderRejections.WithLabelValues(rejectionReason(domain.ErrPersistence)).Inc()
		}

		return &domain.AdmissionError{
			Kind:     domain.ErrPersistence,
			Reason:   fmt.Sprintf("order %s could not be refunded yet after: %s", order.ID, description),
			Required: order.Price,
			Order:    order,
			Err:      err,
		}
	}

	order.Status = domain.OrderStatusCancelled
	order.Description = description
	order.UpdatedAt = refund.CreatedAt

	uc.logger.Warn().
		Err(providerErr).
		Str("order_id", order.ID).
		Str("refund_entry_id", refund.ID).
		Msg("dispatch failed, reservation refunded")

	if uc.metrics != nil {
		uc.metrics.Compensations.Inc()
		uc.metrics.OrdersPlaced.WithLabelValues(string(domain.OrderStatusCancelled)).Inc()
	}

	uc.notify(ctx, order, domain.NotificationOrderCancelled,
		fmt.Sprintf("Order %s was cancelled and %s refunded", order.ID, order.Price.StringFixed(2)))

	return &domain.AdmissionError{
		Kind:     domain.ErrDispatchFailed,
		Reason:   description,
		Required: order.Price,
		Balance:  refund.BalanceAfter,
		Order:    order,
		Err:      providerErr,
	}
}

// refund runs one compensation attempt. The guarded cancel goes first so the
// order row is locked before the account is credited.
func (uc *OrderUseCase) refund(ctx context.Context, order *domain.Order, description string) (*domain.LedgerEntry, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	now := time.Now().UTC()
	if err := uc.orderRepo.CancelUndispatched(txCtx, tx, order.ID, description, now); err != nil {
		return nil, err
	}

	entry, err := uc.ledger.ApplyTx(txCtx, tx, LedgerInput{
		AccountID:     order.AccountID,
		Reason:        domain.ReasonOrderRefund,
		CorrelationID: order.ID,
		Amount:        order.Price,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return entry, nil
}

// settledElsewhere reports an order that another attempt already cancelled or
// dispatched. Only a cancelled order counts as refunded.
func (uc *OrderUseCase) settledElsewhere(ctx context.Context, order *domain.Order, providerErr *domain.ProviderError) error {
	current, err := uc.orderRepo.GetByID(ctx, order.ID)
	if err != nil {
		return &domain.AdmissionError{Kind: domain.ErrPersistence, Required: order.Price, Order: order, Err: err}
	}

	*order = *current

	if current.Status != domain.OrderStatusCancelled {
		return &domain.AdmissionError{
			Kind:   domain.ErrOrderSettled,
			Reason: fmt.Sprintf("order %s is %s", current.ID, current.Status),
			Order:  current,
		}
	}

	result := &domain.AdmissionError{
		Kind:     domain.ErrDispatchFailed,
		Reason:   current.Description,
		Required: current.Price,
		Order:    current,
		Err:      providerErr,
	}
	if account, err := uc.accountRepo.GetByID(ctx, current.AccountID); err == nil {
		result.Balance = account.Balance
	}

	return result
}

// RecoverUndispatched refunds an order that was reserved for a provider but
// whose dispatch outcome was never stored: the process stopped between commit
// and submit, or the upstream id or the refund could not be written. It goes
// through the same compensation as a failed dispatch. An order that turns out
// to be settled already yields domain.ErrOrderSettled.
func (uc *OrderUseCase) RecoverUndispatched(ctx context.Context, order *domain.Order) error {
	if !order.AwaitingDispatch() {
		return fmt.Errorf("%w: order %s is %s", domain.ErrOrderSettled, order.ID, order.Status)
	}

	cause := &domain.ProviderError{
		Category:   domain.ProviderUnreachable,
		ProviderID: order.ProviderID,
		Action:     "add",
		Message:    "dispatch outcome was never recorded",
	}

	err := uc.compensate(ctx, order, order.ProviderID, cause)
	if errors.Is(err, domain.ErrDispatchFailed) {
		return nil
	}

	return err
}

func asProviderError(err error, providerID string) *domain.ProviderError {
	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr
	}

	return &domain.ProviderError{
		Category:   domain.ProviderUnreachable,
		ProviderID: providerID,
		Action:     "add",
		Message:    err.Error(),
		Err:        err,
	}
}

func (uc *OrderUseCase) notify(ctx context.Context, order *domain.Order, kind domain.NotificationKind, message string) {
	uc.notifier.Notify(ctx, domain.Notification{
		AccountID: order.AccountID,
		Kind:      kind,
		Message:   message,
		OrderID:   order.ID,
		CreatedAt: time.Now().UTC(),
	})
}

func (uc *OrderUseCase) admitted(order *domain.Order) {
	if uc.metrics == nil {
		return
	}

	uc.metrics.OrdersPlaced.WithLabelValues(string(order.Status)).Inc()
	uc.metrics.OrderValue.Observe(order.Price.InexactFloat64())
}

// rejected normalizes err to an AdmissionError and records it.
func (uc *OrderUseCase) rejected(err error) error {
	var admissionErr *domain.AdmissionError
	if !errors.As(err, &admissionErr) {
		admissionErr = domain.PersistenceError(err)
	}

	if uc.metrics != nil {
		uc.metrics.OrderRejections.WithLabelValues(rejectionReason(admissionErr.Kind)).Inc()
	}

	if errors.Is(admissionErr, domain.ErrPersistence) {
		uc.logger.Error().Err(admissionErr).Msg("order admission failed")
	} else {
		uc.logger.Debug().Err(admissionErr).Msg("order rejected")
	}

	return admissionErr
}

func rejectionReason(kind error) string {
	switch {
	case errors.Is(kind, domain.ErrValidation):
		return "validation"
	case errors.Is(kind, domain.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(kind, domain.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(kind, domain.ErrDuplicateActiveOrder):
		return "duplicate"
	case errors.Is(kind, domain.ErrOfferingUnavailable):
		return "offering_unavailable"
	case errors.Is(kind, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(kind, domain.ErrQuantityOutOfBounds):
		return "quantity_out_of_bounds"
	case errors.Is(kind, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "persistence"
	}
}

// GetOrder returns an order visible to the principal.
func (uc *OrderUseCase) GetOrder(ctx context.Context, principal domain.Principal, id string) (*domain.Order, error) {
	order, err := uc.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !principal.Role.CanOperate() && order.AccountID != principal.AccountID {
		return nil, domain.ErrOrderNotFound
	}

	return order, nil
}

// ListOrders lists orders matching filter, newest first. Non-admin principals
// only ever see their own orders.
func (uc *OrderUseCase) ListOrders(ctx context.Context, principal domain.Principal, filter domain.OrderFilter) ([]*domain.Order, error) {
	if !principal.Role.CanOperate() {
		filter.AccountID = principal.AccountID
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.Validationf("unknown status %q", filter.Status)
	}

	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)

	return uc.orderRepo.List(ctx, filter)
}
