package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

func fastRetrier(m *metrics.Metrics) *Retrier {
	r := NewRetrier(zerolog.Nop(), m)
	r.maxRetries = 2
	r.initialInterval = 1 * time.Millisecond
	r.maxInterval = 2 * time.Millisecond
	r.maxElapsedTime = 50 * time.Millisecond

	return r
}

func TestRetrierRetriesOnRetryableError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := fastRetrier(m)

	attempts := 0
	err := r.Retry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &pgconn.PgError{Code: pgErrDeadlock}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if got := testutil.ToFloat64(m.LedgerRetries); got != 1 {
		t.Fatalf("expected 1 recorded retry, got %v", got)
	}
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	r := fastRetrier(nil)

	attempts := 0
	err := r.Retry(context.Background(), func() error {
		attempts++
		return &pgconn.PgError{Code: pgErrSerializationFailure}
	})

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected pg error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r := fastRetrier(nil)
	attempts := 0
	permanentErr := errors.New("permanent")

	err := r.Retry(context.Background(), func() error {
		attempts++
		return permanentErr
	})

	if !errors.Is(err, permanentErr) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &pgconn.PgError{Code: pgErrDeadlock}, true},
		{"serialization", &pgconn.PgError{Code: pgErrSerializationFailure}, true},
		{"wrapped", fmt.Errorf("append ledger entry: %w", &pgconn.PgError{Code: pgErrDeadlock}), true},
		{"inside admission error", domain.PersistenceError(&pgconn.PgError{Code: pgErrSerializationFailure}), true},
		{"unique violation", &pgconn.PgError{Code: pgErrUniqueViolation}, false},
		{"generic", errors.New("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Fatalf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "orders_active_link_key"}

	if !isUniqueViolation(err, "orders_active_link_key") {
		t.Fatalf("expected constraint match")
	}
	if isUniqueViolation(err, "other") {
		t.Fatalf("expected constraint mismatch")
	}
	if !isUniqueViolation(err, "") {
		t.Fatalf("expected any-constraint match")
	}
}

func TestRetrierRetryUntilRetriesConnectionErrors(t *testing.T) {
	r := fastRetrier(nil)

	attempts := 0
	err := r.RetryUntil(context.Background(), func() error {
		attempts++
		if attempts < 5 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, domain.IsBusinessError)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	// More attempts than Retry's maxRetries allows.
	if attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", attempts)
	}
}

func TestRetrierRetryUntilStopsOnBusinessError(t *testing.T) {
	r := fastRetrier(nil)

	attempts := 0
	err := r.RetryUntil(context.Background(), func() error {
		attempts++
		return fmt.Errorf("cancel order: %w", domain.ErrOrderSettled)
	}, domain.IsBusinessError)

	if !errors.Is(err, domain.ErrOrderSettled) {
		t.Fatalf("expected settled error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetrierRetryUntilReturnsLastErrorOnDeadline(t *testing.T) {
	r := fastRetrier(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resetErr := errors.New("connection reset by peer")
	err := r.RetryUntil(ctx, func() error { return resetErr }, domain.IsBusinessError)

	if !errors.Is(err, resetErr) {
		t.Fatalf("expected last operation error, got %v", err)
	}
}
