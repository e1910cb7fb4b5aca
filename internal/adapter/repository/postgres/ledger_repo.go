package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/smmpanel/internal/domain"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	db DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// FindBalanceDrift compares every cached balance with the sum of its entries.
func (r *LedgerRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	query := `
		SELECT a.id, a.balance, COALESCE(SUM(e.amount), 0) AS entry_sum
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(e.amount), 0)
		ORDER BY a.id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []domain.BalanceDrift
	for rows.Next() {
		var (
			id            string
			balance, sums pgtype.Numeric
		)

		if err := rows.Scan(&id, &balance, &sums); err != nil {
			return nil, err
		}

		drifts = append(drifts, domain.BalanceDrift{
			AccountID:     id,
			CachedBalance: numericToDecimal(balance),
			EntrySum:      numericToDecimal(sums),
		})
	}

	return drifts, rows.Err()
}
