package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

// ReconcileOutcome is what a single reconcile call did to an order.
type ReconcileOutcome string

const (
	ReconcileUpdated   ReconcileOutcome = "updated"
	ReconcileUnchanged ReconcileOutcome = "unchanged"
	ReconcileSkipped   ReconcileOutcome = "skipped"
	ReconcileFailed    ReconcileOutcome = "failed"
	// ReconcileRecovered marks an undispatched order that was refunded and cancelled.
	ReconcileRecovered ReconcileOutcome = "recovered"
)

// ReconcileResult describes one reconciled order.
type ReconcileResult struct {
	Order   *domain.Order
	OrderID string
	Outcome ReconcileOutcome
}

// ReconcileReport summarizes a batch pass.
type ReconcileReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Updated    int
	Unchanged  int
	Skipped    int
	Failed     int
	Recovered  int
}

func (r *ReconcileReport) add(outcome ReconcileOutcome) {
	r.Checked++

	switch outcome {
	case ReconcileUpdated:
		r.Updated++
	case ReconcileUnchanged:
		r.Unchanged++
	case ReconcileSkipped:
		r.Skipped++
	case ReconcileRecovered:
		r.Recovered++
	default:
		r.Failed++
	}
}

// ReconciliationConfig tunes the batch pass.
type ReconciliationConfig struct {
	QueryTimeout time.Duration
	Concurrency  int
	BatchSize    int
	LockTTL      time.Duration

	// DispatchGrace is the minimum age of an undispatched order before it is refunded.
	DispatchGrace time.Duration
}

func (c ReconciliationConfig) withDefaults() ReconciliationConfig {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultReconcileQueryTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultReconcileConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultReconcileBatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultOrderLockTTL
	}
	if c.DispatchGrace <= 0 {
		c.DispatchGrace = DefaultDispatchGracePeriod
	}

	return c
}

// ReconciliationUseCase keeps local order state in step with upstream providers.
// It never moves money.
type ReconciliationUseCase struct {
	orderRepo OrderRepository
	catalog   CatalogReader
	gateway   ProviderGateway
	locker    OrderLocker
	notifier  Notifier
	recoverer DispatchRecoverer
	cfg       ReconciliationConfig
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	orderRepo OrderRepository,
	catalog CatalogReader,
	gateway ProviderGateway,
	locker OrderLocker,
	notifier Notifier,
	cfg ReconciliationConfig,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		orderRepo: orderRepo,
		catalog:   catalog,
		gateway:   gateway,
		locker:    locker,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "reconciliation").Logger(),
		metrics:   metrics,
	}
}

// WithDispatchRecovery enables the sweep that refunds orders stuck without an
// upstream id. Without it such orders are left for an operator.
func (uc *ReconciliationUseCase) WithDispatchRecovery(r DispatchRecoverer) *ReconciliationUseCase {
	uc.recoverer = r

	return uc
}

// ReconcileOrder syncs one order from its provider. A pass already running for
// the same order makes this call a no-op with outcome skipped.
func (uc *ReconciliationUseCase) ReconcileOrder(ctx context.Context, orderID string) (*ReconcileResult, error) {
	release, acquired, err := uc.locker.TryLock(ctx, orderID, uc.cfg.LockTTL)
	if err != nil {
		return uc.failed(orderID, fmt.Errorf("acquire order lock: %w", err))
	}

	if !acquired {
		if uc.metrics != nil {
			uc.metrics.LockContention.Inc()
		}

		return uc.done(&ReconcileResult{OrderID: orderID, Outcome: ReconcileSkipped}), nil
	}

	defer uc.release(ctx, orderID, release)

	return uc.reconcileLocked(ctx, orderID)
}

func (uc *ReconciliationUseCase) reconcileLocked(ctx context.Context, orderID string) (*ReconcileResult, error) {
	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return uc.failed(orderID, err)
	}

	if !order.NeedsReconciliation() {
		return uc.done(&ReconcileResult{Order: order, OrderID: orderID, Outcome: ReconcileUnchanged}), nil
	}

	// Orders keep being reconciled after their provider is deactivated.
	snapshot, err := uc.catalog.Snapshot(ctx, nil, order.OfferingID)
	if err != nil {
		return uc.failed(orderID, fmt.Errorf("load offering %s: %w", order.OfferingID, err))
	}

	provider := snapshot.Provider
	if provider == nil {
		return uc.failed(orderID, fmt.Errorf("offering %s: %w", order.OfferingID, domain.ErrProviderUnavailable))
	}

	updated := *order
	changed := false

	if !order.Status.IsTerminal() {
		qctx, cancel := context.WithTimeout(ctx, uc.cfg.QueryTimeout)
		status, err := uc.gateway.QueryStatus(qctx, provider, *order.UpstreamOrderID)
		cancel()

		if err != nil {
			return uc.failed(orderID, err)
		}

		changed = updated.ApplyUpstreamStatus(status, provider.ConversionRate())
	}

	var refillErr error

	if updated.RefillOutstanding() {
		qctx, cancel := context.WithTimeout(ctx, uc.cfg.QueryTimeout)
		refillStatus, err := uc.gateway.QueryRefillStatus(qctx, provider, *updated.RefillID)
		cancel()

		if err != nil {
			refillErr = err
		} else if updated.ApplyRefillStatus(refillStatus) {
			changed = true
		}
	}

	if changed {
		updated.UpdatedAt = time.Now().UTC()

		err := uc.orderRepo.UpdateProgress(ctx, &updated)
		if errors.Is(err, domain.ErrDuplicateActiveOrder) && updated.Status != order.Status {
			// A newer active order holds the link; keep the old status and store
			// the counters alone.
			uc.logger.Warn().
				Str("order_id", orderID).
				Str("upstream_status", string(updated.Status)).
				Str("kept_status", string(order.Status)).
				Msg("upstream status would collide with another active order for this link")

			updated.Status = order.Status
			err = uc.orderRepo.UpdateProgress(ctx, &updated)
		}

		if err != nil {
			return uc.failed(orderID, fmt.Errorf("store order progress: %w", err))
		}

		uc.logger.Info().
			Str("order_id", orderID).
			Str("status", string(updated.Status)).
			Int64("start_count", updated.StartCount).
			Int64("remains", updated.Remains).
			Msg("order reconciled")
	}

	if refillErr != nil {
		result, err := uc.failed(orderID, fmt.Errorf("refill status: %w", refillErr))
		result.Order = &updated

		return result, err
	}

	outcome := ReconcileUnchanged
	if changed {
		outcome = ReconcileUpdated
	}

	return uc.done(&ReconcileResult{Order: &updated, OrderID: orderID, Outcome: outcome}), nil
}

func (uc *ReconciliationUseCase) release(ctx context.Context, orderID string, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		uc.logger.Warn().Err(err).Str("order_id", orderID).Msg("failed to release order lock")
	}
}

func (uc *ReconciliationUseCase) done(result *ReconcileResult) *ReconcileResult {
	if uc.metrics != nil {
		uc.metrics.ReconcileOrders.WithLabelValues(string(result.Outcome)).Inc()
	}

	return result
}

// failed records a per-order failure. The order itself is left as it was.
func (uc *ReconciliationUseCase) failed(orderID string, err error) (*ReconcileResult, error) {
	recErr := &domain.ReconciliationError{OrderID: orderID, Err: err}

	event := uc.logger.Warn()

	var providerErr *domain.ProviderError
	if errors.As(err, &providerErr) {
		event = event.Str("category", providerErr.Category.String())
	}

	event.Err(err).Str("order_id", orderID).Msg("order reconciliation failed")

	return uc.done(&ReconcileResult{OrderID: orderID, Outcome: ReconcileFailed}), recErr
}

// ReconcileOutstanding reconciles every order that is in flight upstream. A
// failing order is counted and skipped; it does not stop the pass.
func (uc *ReconciliationUseCase) ReconcileOutstanding(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: time.Now().UTC()}

	if uc.metrics != nil {
		uc.metrics.ReconcileRuns.Inc()
		defer func() {
			uc.metrics.ReconcileDuration.Observe(time.Since(report.StartedAt).Seconds())
		}()
	}

	uc.recoverUndispatched(ctx, report)

	var (
		mu      sync.Mutex
		afterID string
	)

	for {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		page, err := uc.orderRepo.ListOutstanding(ctx, afterID, uc.cfg.BatchSize)
		if err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, fmt.Errorf("list outstanding orders: %w", err)
		}

		var g errgroup.Group
		g.SetLimit(uc.cfg.Concurrency)

		for _, order := range page {
			orderID := order.ID

			g.Go(func() error {
				result, _ := uc.ReconcileOrder(ctx, orderID)

				mu.Lock()
				report.add(result.Outcome)
				mu.Unlock()

				return nil
			})
		}

		_ = g.Wait()

		if len(page) < uc.cfg.BatchSize {
			break
		}

		afterID = page[len(page)-1].ID
	}

	report.FinishedAt = time.Now().UTC()

	uc.logger.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("recovered", report.Recovered).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("reconciliation pass finished")

	return report, nil
}

// recoverUndispatched refunds one page of orders that were reserved for a
// provider longer than the grace period ago and never got an upstream id.
// Orders that keep failing stay in the set and are retried on the next pass.
func (uc *ReconciliationUseCase) recoverUndispatched(ctx context.Context, report *ReconcileReport) {
	if uc.recoverer == nil {
		return
	}

	cutoff := time.Now().UTC().Add(-uc.cfg.DispatchGrace)

	stuck, err := uc.orderRepo.ListAwaitingDispatch(ctx, cutoff, uc.cfg.BatchSize)
	if err != nil {
		uc.logger.Error().Err(err).Msg("list undispatched orders")
		return
	}

	for _, order := range stuck {
		if ctx.Err() != nil {
			return
		}

		result, _ := uc.RecoverOrder(ctx, order)
		report.add(result.Outcome)
	}
}

// RecoverOrder refunds a single undispatched order under the per-order lock.
func (uc *ReconciliationUseCase) RecoverOrder(ctx context.Context, order *domain.Order) (*ReconcileResult, error) {
	if uc.recoverer == nil {
		return uc.failed(order.ID, errors.New("dispatch recovery is not configured"))
	}

	release, acquired, err := uc.locker.TryLock(ctx, order.ID, uc.cfg.LockTTL)
	if err != nil {
		return uc.failed(order.ID, fmt.Errorf("acquire order lock: %w", err))
	}

	if !acquired {
		return uc.done(&ReconcileResult{OrderID: order.ID, Outcome: ReconcileSkipped}), nil
	}

	defer uc.release(ctx, order.ID, release)

	err = uc.recoverer.RecoverUndispatched(ctx, order)

	switch {
	case err == nil:
		uc.logger.Warn().
			Str("order_id", order.ID).
			Str("account_id", order.AccountID).
			Str("provider_id", order.ProviderID).
			Time("created_at", order.CreatedAt).
			Msg("undispatched order refunded and cancelled")

		return uc.done(&ReconcileResult{Order: order, OrderID: order.ID, Outcome: ReconcileRecovered}), nil
	case errors.Is(err, domain.ErrOrderSettled):
		return uc.done(&ReconcileResult{Order: order, OrderID: order.ID, Outcome: ReconcileUnchanged}), nil
	default:
		return uc.failed(order.ID, fmt.Errorf("recover undispatched order: %w", err))
	}
}

// RequestRefill asks the provider to restore lost units on a dispatched order.
// It holds the same per-order lock as reconciliation.
func (uc *ReconciliationUseCase) RequestRefill(ctx context.Context, principal domain.Principal, orderID string) (*domain.Order, error) {
	release, acquired, err := uc.locker.TryLock(ctx, orderID, uc.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}

	if !acquired {
		uc.refillOutcome("locked")
		return nil, fmt.Errorf("%w: order %s", domain.ErrOrderLocked, orderID)
	}

	defer uc.release(ctx, orderID, release)

	order, err := uc.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !principal.Role.CanOperate() && order.AccountID != principal.AccountID {
		return nil, domain.ErrOrderNotFound
	}

	if !order.Dispatched() {
		uc.refillOutcome("rejected")
		return nil, fmt.Errorf("%w: order %s", domain.ErrOrderNotDispatched, orderID)
	}

	snapshot, err := uc.catalog.Snapshot(ctx, nil, order.OfferingID)
	if err != nil {
		return nil, err
	}

	if !snapshot.Offering.Refill {
		uc.refillOutcome("rejected")
		return nil, fmt.Errorf("%w: offering %s", domain.ErrRefillNotSupported, order.OfferingID)
	}

	if order.RefillOutstanding() {
		uc.refillOutcome("rejected")
		return nil, fmt.Errorf("%w: refill %s", domain.ErrRefillPending, *order.RefillID)
	}

	if snapshot.Provider == nil {
		uc.refillOutcome("rejected")
		return nil, fmt.Errorf("%w: offering %s", domain.ErrProviderUnavailable, order.OfferingID)
	}

	qctx, cancel := context.WithTimeout(ctx, uc.cfg.QueryTimeout)
	refillID, err := uc.gateway.RequestRefill(qctx, snapshot.Provider, *order.UpstreamOrderID)
	cancel()

	if err != nil {
		uc.refillOutcome("failed")
		uc.logger.Warn().Err(err).Str("order_id", orderID).Msg("refill request failed")

		return nil, fmt.Errorf("%w: %w", domain.ErrRefillFailed, err)
	}

	now := time.Now().UTC()
	if err := uc.orderRepo.SetRefill(ctx, order.ID, refillID, domain.RefillStatusPending, now); err != nil {
		return nil, fmt.Errorf("store refill %s: %w", refillID, err)
	}

	pending := domain.RefillStatusPending
	order.RefillID = &refillID
	order.RefillStatus = &pending
	order.UpdatedAt = now

	uc.refillOutcome("requested")
	uc.logger.Info().Str("order_id", orderID).Str("refill_id", refillID).Msg("refill requested")

	uc.notifier.Notify(ctx, domain.Notification{
		AccountID: order.AccountID,
		Kind:      domain.NotificationRefillRequested,
		Message:   fmt.Sprintf("Refill requested for order %s", order.ID),
		OrderID:   order.ID,
		CreatedAt: now,
	})

	return order, nil
}

func (uc *ReconciliationUseCase) refillOutcome(outcome string) {
	if uc.metrics != nil {
		uc.metrics.RefillRequests.WithLabelValues(outcome).Inc()
	}
}
