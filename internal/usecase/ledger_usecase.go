package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

var (
	// ErrInconsistentLedger is returned when a cached balance differs from its entries.
	ErrInconsistentLedger = errors.New("ledger is inconsistent: cached balance differs from entry sum")
)

// LedgerInput describes one balance movement. Amount is signed the same way as
// LedgerEntry.Amount: credits positive, debits negative.
type LedgerInput struct {
	AccountID     string
	Reason        string
	CorrelationID string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
}

// LedgerUseCase is the only writer of account balances.
type LedgerUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	entryRepo   EntryRepository
	ledgerRepo  LedgerRepository
	idGen       IDGenerator
	retrier     Retrier
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	entryRepo EntryRepository,
	ledgerRepo LedgerRepository,
	idGen IDGenerator,
	retrier Retrier,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) *LedgerUseCase {
	return &LedgerUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		ledgerRepo:  ledgerRepo,
		idGen:       idGen,
		retrier:     retrier,
		logger:      logger.With().Str("component", "ledger").Logger(),
		metrics:     metrics,
	}
}

// Debit removes amount from the account in its own transaction.
func (uc *LedgerUseCase) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason, correlationID string) (*domain.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	return uc.post(ctx, LedgerInput{
		AccountID:     accountID,
		Reason:        reason,
		CorrelationID: correlationID,
		Amount:        amount.Neg(),
	})
}

// Credit adds amount to the account in its own transaction.
func (uc *LedgerUseCase) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason, correlationID string) (*domain.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	return uc.post(ctx, LedgerInput{
		AccountID:     accountID,
		Reason:        reason,
		CorrelationID: correlationID,
		Amount:        amount,
	})
}

func (uc *LedgerUseCase) post(ctx context.Context, input LedgerInput) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry

	err := uc.retrier.Retry(ctx, func() error {
		txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := uc.txManager.Begin(txCtx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(txCtx) }()

		e, err := uc.ApplyTx(txCtx, tx, input)
		if err != nil {
			return err
		}

		if err := tx.Commit(txCtx); err != nil {
			return err
		}

		entry = e

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// ApplyTx appends an entry and updates the cached balance inside tx. The account
// row is locked until tx ends, which serializes movements per account.
func (uc *LedgerUseCase) ApplyTx(ctx context.Context, tx Transaction, input LedgerInput) (*domain.LedgerEntry, error) {
	if input.Amount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}

	account, err := uc.accountRepo.GetByIDForUpdate(ctx, tx, input.AccountID)
	if err != nil {
		return nil, err
	}

	return uc.ApplyLocked(ctx, tx, account, input)
}

// ApplyLocked is ApplyTx for callers that already hold the account row lock.
// account.Balance is updated in place on success.
func (uc *LedgerUseCase) ApplyLocked(ctx context.Context, tx Transaction, account *domain.Account, input LedgerInput) (*domain.LedgerEntry, error) {
	if input.Amount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}

	operation := "credit"
	newBalance := account.ApplyCredit(input.Amount)

	if input.Amount.IsNegative() {
		operation = "debit"

		if err := account.ValidateDebit(input.Amount.Neg()); err != nil {
			return nil, err
		}

		newBalance = account.ApplyDebit(input.Amount.Neg())
	}

	now := time.Now().UTC()

	entry := &domain.LedgerEntry{
		ID:            uc.idGen.Generate(),
		AccountID:     account.ID,
		Reason:        input.Reason,
		CorrelationID: input.CorrelationID,
		Amount:        input.Amount,
		Fee:           input.Fee,
		BalanceAfter:  newBalance,
		CreatedAt:     now,
	}

	if err := uc.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := uc.accountRepo.UpdateBalance(ctx, tx, account.ID, newBalance, now); err != nil {
		return nil, fmt.Errorf("update cached balance: %w", err)
	}

	account.Balance = newBalance
	account.Version++
	account.UpdatedAt = now

	if uc.metrics != nil {
		uc.metrics.LedgerOperations.WithLabelValues(operation).Inc()
	}

	return entry, nil
}

// CheckConsistency lists accounts whose cached balance differs from the sum of
// their entries. It returns ErrInconsistentLedger alongside the drifts found.
func (uc *LedgerUseCase) CheckConsistency(ctx context.Context) ([]domain.BalanceDrift, error) {
	drifts, err := uc.ledgerRepo.FindBalanceDrift(ctx)
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.LedgerDrift.Set(float64(len(drifts)))
	}

	if len(drifts) == 0 {
		return nil, nil
	}

	for _, d := range drifts {
		uc.logger.Error().
			Str("account_id", d.AccountID).
			Str("cached_balance", d.CachedBalance.String()).
			Str("entry_sum", d.EntrySum.String()).
			Msg("balance drift detected")
	}

	return drifts, fmt.Errorf("%w: %d account(s)", ErrInconsistentLedger, len(drifts))
}

// GetAccount retrieves an account by ID.
func (uc *LedgerUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// ListEntries lists an account's ledger entries, newest first.
func (uc *LedgerUseCase) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	limit, offset = domain.ValidatePagination(limit, offset)

	return uc.entryRepo.ListByAccount(ctx, accountID, limit, offset)
}

// EntriesForOrder returns every entry correlated to an order, oldest first.
func (uc *LedgerUseCase) EntriesForOrder(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	return uc.entryRepo.ListByCorrelation(ctx, orderID)
}
