package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateLink(t *testing.T) {
	t.Parallel()

	t.Run("valid url", func(t *testing.T) {
		if err := ValidateLink("https://instagram.com/someone"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("bare handle", func(t *testing.T) {
		if err := ValidateLink("someone"); err != nil {
			t.Fatalf("expected handle to be accepted, got %v", err)
		}
	})

	t.Run("empty link rejected", func(t *testing.T) {
		err := ValidateLink("   ")
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("link too long", func(t *testing.T) {
		err := ValidateLink("https://x.com/" + strings.Repeat("a", MaxLinkLength))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("non http scheme", func(t *testing.T) {
		err := ValidateLink("ftp://files.example.com/a")
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestValidateQuantity(t *testing.T) {
	t.Parallel()

	if err := ValidateQuantity(10); err != nil {
		t.Fatalf("expected valid quantity, got %v", err)
	}

	if err := ValidateQuantity(0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero, got %v", err)
	}

	if err := ValidateQuantity(-5); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative, got %v", err)
	}

	if err := ValidateQuantity(MaxOrderQuantity + 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for huge quantity, got %v", err)
	}
}

func TestValidateDripFeed(t *testing.T) {
	t.Parallel()

	if err := ValidateDripFeed(nil); err != nil {
		t.Fatalf("expected nil drip-feed to be allowed, got %v", err)
	}

	if err := ValidateDripFeed(&DripFeed{Runs: 5, Interval: 30}); err != nil {
		t.Fatalf("expected valid drip-feed, got %v", err)
	}

	if err := ValidateDripFeed(&DripFeed{Runs: 0, Interval: 30}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero runs, got %v", err)
	}

	if err := ValidateDripFeed(&DripFeed{Runs: 2, Interval: 0}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero interval, got %v", err)
	}
}

func TestValidatePagination(t *testing.T) {
	t.Parallel()

	limit, offset := ValidatePagination(0, -3)
	if limit != 50 || offset != 0 {
		t.Fatalf("expected defaults 50/0, got %d/%d", limit, offset)
	}

	limit, _ = ValidatePagination(5000, 0)
	if limit != 1000 {
		t.Fatalf("expected limit capped at 1000, got %d", limit)
	}
}
