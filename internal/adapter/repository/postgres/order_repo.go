package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// activeOrderConstraint is the partial unique index backing the duplicate-order guard.
const activeOrderConstraint = "orders_active_link_key"

const orderColumns = `
	id, account_id, offering_id, link, quantity, drip_runs, drip_interval,
	price, status, upstream_order_id, start_count, remains, description,
	provider_cost, refill_id, refill_status, created_at, updated_at, provider_id`

// OrderRepository implements usecase.OrderRepository.
type OrderRepository struct {
	db DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order inside tx. A concurrent active order for the same
// account, offering and link surfaces as domain.ErrDuplicateActiveOrder.
func (r *OrderRepository) Create(ctx context.Context, tx usecase.Transaction, order *domain.Order) error {
	q, err := mustConn(tx)
	if err != nil {
		return err
	}

	var runs, interval *int64
	if order.DripFeed != nil {
		runs, interval = &order.DripFeed.Runs, &order.DripFeed.Interval
	}

	var providerID *string
	if order.ProviderID != "" {
		providerID = &order.ProviderID
	}

	query := `
		INSERT INTO orders (
			id, account_id, offering_id, link, quantity, drip_runs, drip_interval,
			price, status, description, provider_cost, created_at, updated_at, provider_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13)
	`

	_, err = q.Exec(ctx, query,
		order.ID,
		order.AccountID,
		order.OfferingID,
		order.Link,
		order.Quantity,
		runs,
		interval,
		decimalToNumeric(order.Price),
		string(order.Status),
		order.Description,
		order.CreatedAt,
		order.UpdatedAt,
		providerID,
	)
	if isUniqueViolation(err, activeOrderConstraint) {
		return domain.ErrDuplicateActiveOrder
	}

	return err
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}

	return order, err
}

// ExistsActive reports whether the account has a pending, processing or
// in-progress order for the same offering and link.
func (r *OrderRepository) ExistsActive(ctx context.Context, tx usecase.Transaction, accountID, offeringID, link string) (bool, error) {
	q, err := conn(r.db, tx)
	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE account_id = $1 AND offering_id = $2 AND link = $3 AND status = ANY($4)
		)
	`

	var exists bool
	err = q.QueryRow(ctx, query, accountID, offeringID, link, statusNames(domain.ActiveOrderStatuses)).Scan(&exists)

	return exists, err
}

// undispatchedGuard matches an order that is still waiting for its upstream id.
const undispatchedGuard = `status = 'processing' AND upstream_order_id IS NULL`

// MarkDispatched stores the provider's order id and moves the order to in-progress.
// An order that was cancelled or dispatched in the meantime yields domain.ErrOrderSettled.
func (r *OrderRepository) MarkDispatched(ctx context.Context, id, upstreamOrderID string, updatedAt time.Time) error {
	query := `
		UPDATE orders
		SET upstream_order_id = $2, status = $3, updated_at = $4
		WHERE id = $1 AND ` + undispatchedGuard

	return r.guardedExec(ctx, r.db, query, id, upstreamOrderID, string(domain.OrderStatusInProgress), updatedAt)
}

// CancelUndispatched cancels an order inside tx, provided no upstream id was
// recorded for it. The row stays locked until tx ends, so at most one caller
// can refund a given order.
func (r *OrderRepository) CancelUndispatched(ctx context.Context, tx usecase.Transaction, id, description string, updatedAt time.Time) error {
	q, err := mustConn(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET status = $2, description = $3, updated_at = $4
		WHERE id = $1 AND ` + undispatchedGuard

	return r.guardedExec(ctx, q, query, id, string(domain.OrderStatusCancelled), description, updatedAt)
}

// UpdateProgress overwrites the provider-reported fields of an order.
func (r *OrderRepository) UpdateProgress(ctx context.Context, order *domain.Order) error {
	var refillStatus *string
	if order.RefillStatus != nil {
		s := string(*order.RefillStatus)
		refillStatus = &s
	}

	query := `
		UPDATE orders
		SET status = $2, start_count = $3, remains = $4, description = $5,
		    provider_cost = $6, refill_status = $7, updated_at = $8
		WHERE id = $1
	`

	err := r.exec(ctx, r.db, query,
		order.ID,
		string(order.Status),
		order.StartCount,
		order.Remains,
		order.Description,
		decimalToNumeric(order.ProviderCost),
		refillStatus,
		order.UpdatedAt,
	)
	if isUniqueViolation(err, activeOrderConstraint) {
		return domain.ErrDuplicateActiveOrder
	}

	return err
}

// SetRefill records a refill request.
func (r *OrderRepository) SetRefill(ctx context.Context, id, refillID string, status domain.RefillStatus, updatedAt time.Time) error {
	query := `UPDATE orders SET refill_id = $2, refill_status = $3, updated_at = $4 WHERE id = $1`

	return r.exec(ctx, r.db, query, id, refillID, string(status), updatedAt)
}

// List lists orders matching filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}

	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		query += ` AND account_id = $` + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return collectOrders(rows)
}

// ListOutstanding pages through dispatched orders that still need syncing,
// ordered by id and starting after afterID.
func (r *OrderRepository) ListOutstanding(ctx context.Context, afterID string, limit int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE upstream_order_id IS NOT NULL
		  AND id > $1
		  AND (status = ANY($2) OR (refill_id IS NOT NULL AND refill_status = ANY($3)))
		ORDER BY id
		LIMIT $4
	`

	openRefills := []string{string(domain.RefillStatusPending), string(domain.RefillStatusInProgress)}

	rows, err := r.db.Query(ctx, query, afterID, statusNames(domain.NonTerminalOrderStatuses), openRefills, limit)
	if err != nil {
		return nil, err
	}

	return collectOrders(rows)
}

// ListAwaitingDispatch returns bound orders created before createdBefore that are
// still processing without an upstream id, oldest first.
func (r *OrderRepository) ListAwaitingDispatch(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE provider_id IS NOT NULL
		  AND ` + undispatchedGuard + `
		  AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, err
	}

	return collectOrders(rows)
}

// guardedExec is exec for conditional updates: no matching row means the order
// moved on, not that it is missing.
func (r *OrderRepository) guardedExec(ctx context.Context, q querier, query string, args ...any) error {
	err := r.exec(ctx, q, query, args...)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.ErrOrderSettled
	}

	return err
}

func (r *OrderRepository) exec(ctx context.Context, q querier, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func statusNames(statuses []domain.OrderStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	return names
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}

		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                   domain.Order
		runs, interval      *int64
		price, providerCost pgtype.Numeric
		status              string
		refillStatus        *string
		providerID          *string
	)

	err := row.Scan(
		&o.ID,
		&o.AccountID,
		&o.OfferingID,
		&o.Link,
		&o.Quantity,
		&runs,
		&interval,
		&price,
		&status,
		&o.UpstreamOrderID,
		&o.StartCount,
		&o.Remains,
		&o.Description,
		&providerCost,
		&o.RefillID,
		&refillStatus,
		&o.CreatedAt,
		&o.UpdatedAt,
		&providerID,
	)
	if err != nil {
		return nil, err
	}

	if providerID != nil {
		o.ProviderID = *providerID
	}

	if runs != nil && interval != nil {
		o.DripFeed = &domain.DripFeed{Runs: *runs, Interval: *interval}
	}

	if refillStatus != nil {
		rs := domain.RefillStatus(*refillStatus)
		o.RefillStatus = &rs
	}

	o.Price = numericToDecimal(price)
	o.ProviderCost = numericToDecimal(providerCost)
	o.Status = domain.OrderStatus(status)

	return &o, nil
}
