package domain

import (
	"net/url"
	"strings"
)

// Validation constants
const (
	MaxLinkLength     = 2048
	MaxOrderQuantity  = 100_000_000
	MaxDripFeedRuns   = 1000
	MaxDripFeedPeriod = 60 * 24 * 30 // minutes
)

// ValidateLink validates the target link of an order
func ValidateLink(link string) error {
	link = strings.TrimSpace(link)
	if link == "" {
		return Validationf("link cannot be empty")
	}

	if len(link) > MaxLinkLength {
		return Validationf("link exceeds %d characters", MaxLinkLength)
	}

	// Usernames and bare handles are accepted; anything with a scheme must be http(s).
	if strings.Contains(link, "://") {
		u, err := url.Parse(link)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return Validationf("link %q is not a valid http(s) URL", link)
		}
	}

	return nil
}

// ValidateQuantity validates a requested quantity
func ValidateQuantity(quantity int64) error {
	if quantity <= 0 {
		return Validationf("quantity must be positive")
	}

	if quantity > MaxOrderQuantity {
		return Validationf("quantity exceeds %d", MaxOrderQuantity)
	}

	return nil
}

// ValidateDripFeed validates optional drip-feed parameters
func ValidateDripFeed(drip *DripFeed) error {
	if drip == nil {
		return nil
	}

	if drip.Runs <= 0 || drip.Runs > MaxDripFeedRuns {
		return Validationf("drip-feed runs must be between 1 and %d", MaxDripFeedRuns)
	}

	if drip.Interval <= 0 || drip.Interval > MaxDripFeedPeriod {
		return Validationf("drip-feed interval must be between 1 and %d minutes", MaxDripFeedPeriod)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
