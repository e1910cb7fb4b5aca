package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

const entryColumns = `id, account_id, reason, correlation_id, amount, fee, balance_after, created_at`

// EntryRepository implements usecase.EntryRepository. Entries are append-only.
type EntryRepository struct {
	db DB
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Create appends an entry inside tx.
func (r *EntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.LedgerEntry) error {
	q, err := mustConn(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries (id, account_id, reason, correlation_id, amount, fee, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Reason,
		entry.CorrelationID,
		decimalToNumeric(entry.Amount),
		decimalToNumeric(entry.Fee),
		decimalToNumeric(entry.BalanceAfter),
		entry.CreatedAt,
	)

	return err
}

// ListByAccount lists an account's entries, newest first.
func (r *EntryRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	return collectEntries(rows)
}

// ListByCorrelation returns the entries written for one order, oldest first.
func (r *EntryRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE correlation_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, correlationID)
	if err != nil {
		return nil, err
	}

	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			e                         domain.LedgerEntry
			amount, fee, balanceAfter pgtype.Numeric
		)

		if err := rows.Scan(&e.ID, &e.AccountID, &e.Reason, &e.CorrelationID, &amount, &fee, &balanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Amount = numericToDecimal(amount)
		e.Fee = numericToDecimal(fee)
		e.BalanceAfter = numericToDecimal(balanceAfter)
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
