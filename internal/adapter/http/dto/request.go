package dto

import (
	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/usecase"
)

// PlaceOrderRequest represents a request to place an order.
type PlaceOrderRequest struct {
	OfferingID string           `json:"offering_id"`
	Link       string           `json:"link"`
	Quantity   int64            `json:"quantity"`
	DripFeed   *DripFeedRequest `json:"drip_feed,omitempty"`
}

// DripFeedRequest splits an order into several deliveries.
type DripFeedRequest struct {
	Runs     int64 `json:"runs"`
	Interval int64 `json:"interval"`
}

// ToUseCaseInput converts to use case input for the given account.
func (r *PlaceOrderRequest) ToUseCaseInput(accountID string) usecase.PlaceOrderInput {
	input := usecase.PlaceOrderInput{
		AccountID:  accountID,
		OfferingID: r.OfferingID,
		Link:       r.Link,
		Quantity:   r.Quantity,
	}

	if r.DripFeed != nil {
		input.DripFeed = &domain.DripFeed{
			Runs:     r.DripFeed.Runs,
			Interval: r.DripFeed.Interval,
		}
	}

	return input
}
